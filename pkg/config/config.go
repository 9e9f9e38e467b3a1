// Package config loads the YAML configuration that selects a client's
// datacenter roster, RSA public keys, transport/obfuscation defaults, and
// the Redis/Postgres endpoints backing pkg/dcresolver and pkg/audit.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	DataCenters DataCentersConfig `yaml:"datacenters"`
	Transport   TransportConfig   `yaml:"transport"`
	RSAKeys     []RSAKeyConfig    `yaml:"rsa_keys"`
	Redis       RedisConfig       `yaml:"redis"`
	Audit       AuditConfig       `yaml:"audit"`
	Keepalive   KeepaliveConfig   `yaml:"keepalive"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DataCentersConfig seeds pkg/dcresolver before it has ever cached a roster
// fetched from a live connection.
type DataCentersConfig struct {
	Seeds []DataCenterSeed `yaml:"seeds"`
}

// DataCenterSeed is one entry of the bootstrap roster.
type DataCenterSeed struct {
	ID          int32  `yaml:"id"`
	Address     string `yaml:"address"`
	MediaOnly   bool   `yaml:"media_only"`
	CDN         bool   `yaml:"cdn"`
}

// TransportConfig picks the default socket backend and framing, and whether
// obfuscation is applied on top.
type TransportConfig struct {
	Socket       string `yaml:"socket"`       // tcp, quic, ws
	Framing      string `yaml:"framing"`      // abridged, intermediate, padded_intermediate, full
	Obfuscated   bool   `yaml:"obfuscated"`
	ProtocolTag  uint32 `yaml:"protocol_tag"` // identifies this client to obfuscated-transport middleboxes
	Secret       string `yaml:"secret"`       // proxy secret folded into the obfuscation keys, empty for none
}

// RSAKeyConfig is one datacenter RSA public key, PEM-encoded as distributed
// out of band. The client keys each parsed key by the fingerprint it
// recomputes from the key itself; the configured fingerprint is not compared
// against it and only appears in the warning for a key that fails to parse.
type RSAKeyConfig struct {
	Fingerprint int64  `yaml:"fingerprint"`
	PublicKey   string `yaml:"public_key"`
}

// RedisConfig backs pkg/dcresolver's roster cache.
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuditConfig backs pkg/audit's Postgres-logged handshake history.
type AuditConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// KeepaliveConfig holds ping/disconnect timer settings. pkg/connection does
// not read them: it pings on connection.PingDuration and waits a fixed 35s
// disconnect delay for each pong.
type KeepaliveConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	DisconnectDelay time.Duration `yaml:"disconnect_delay"`
}

// LoggingConfig holds structured logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults fills in optional fields left unset in the YAML source.
func (c *Config) setDefaults() {
	if c.Transport.Socket == "" {
		c.Transport.Socket = "tcp"
	}
	if c.Transport.Framing == "" {
		c.Transport.Framing = "intermediate"
	}
	if c.Transport.ProtocolTag == 0 {
		c.Transport.ProtocolTag = 0xeeeeeeee
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 1 * time.Hour
	}

	if c.Audit.Port == 0 {
		c.Audit.Port = 5432
	}
	if c.Audit.SSLMode == "" {
		c.Audit.SSLMode = "disable"
	}

	// PingInterval's 19s default matches the protocol's release-build
	// keepalive cadence; DisconnectDelay's 35s gives the server enough slack
	// to reply before the client tears the connection down.
	if c.Keepalive.PingInterval == 0 {
		c.Keepalive.PingInterval = 19 * time.Second
	}
	if c.Keepalive.DisconnectDelay == 0 {
		c.Keepalive.DisconnectDelay = 35 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
}

// validate checks that a loaded configuration is usable.
func (c *Config) validate() error {
	if len(c.DataCenters.Seeds) == 0 {
		return fmt.Errorf("at least one datacenter seed is required")
	}
	for _, dc := range c.DataCenters.Seeds {
		if dc.ID == 0 {
			return fmt.Errorf("datacenter seed missing id")
		}
		if dc.Address == "" {
			return fmt.Errorf("datacenter %d missing address", dc.ID)
		}
	}

	switch c.Transport.Socket {
	case "tcp", "quic", "ws":
	default:
		return fmt.Errorf("invalid transport socket: %s", c.Transport.Socket)
	}
	switch c.Transport.Framing {
	case "abridged", "intermediate", "padded_intermediate", "full":
	default:
		return fmt.Errorf("invalid transport framing: %s", c.Transport.Framing)
	}

	if len(c.RSAKeys) == 0 {
		return fmt.Errorf("at least one RSA key is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// productionFingerprint and testFingerprint identify the two RSA keys a
// default configuration seeds: production traffic and the test datacenters
// respectively. Fingerprints are the wire's signed 64-bit encoding of the
// unsigned key fingerprint.
var (
	productionFingerprintU uint64 = 0xD09D1D85DE64FD85
	testFingerprintU       uint64 = 0xB25898DF208D2603

	productionFingerprint = int64(productionFingerprintU)
	testFingerprint       = int64(testFingerprintU)
)

// GenerateDefaultConfig creates a default config pointed at the production
// and test datacenter rosters, ready to write out with WriteConfigFile.
func GenerateDefaultConfig() *Config {
	return &Config{
		DataCenters: DataCentersConfig{
			Seeds: []DataCenterSeed{
				{ID: 1, Address: "149.154.175.50:443"},
				{ID: 2, Address: "149.154.167.51:443"},
				{ID: 3, Address: "149.154.175.100:443"},
				{ID: 4, Address: "149.154.167.91:443"},
				{ID: 5, Address: "91.108.56.130:443"},
			},
		},
		Transport: TransportConfig{
			Socket:      "tcp",
			Framing:     "intermediate",
			Obfuscated:  false,
			ProtocolTag: 0xeeeeeeee,
		},
		RSAKeys: []RSAKeyConfig{
			{Fingerprint: productionFingerprint, PublicKey: "<production datacenter public key, PEM>"},
			{Fingerprint: testFingerprint, PublicKey: "<test datacenter public key, PEM>"},
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			TTL:  1 * time.Hour,
		},
		Audit: AuditConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "mtclient",
			DBName:  "mtclient",
			SSLMode: "disable",
		},
		Keepalive: KeepaliveConfig{
			PingInterval:    19 * time.Second,
			DisconnectDelay: 35 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			OutputFile: "",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// WriteConfigFile writes a config struct to a YAML file.
func WriteConfigFile(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
