// Command mtproto-client is a small CLI over pkg/client: connect to a
// datacenter, keep it alive with pings, or fire one test RPC and print the
// raw reply bytes. It exists to exercise the library end to end, not as a
// full MTProto application.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/mtclient/pkg/audit"
	"github.com/shadowmesh/mtclient/pkg/client"
	"github.com/shadowmesh/mtclient/pkg/config"
	"github.com/shadowmesh/mtclient/pkg/dcresolver"
	"github.com/shadowmesh/mtclient/pkg/logging"
	"github.com/shadowmesh/mtclient/pkg/socket"
	"github.com/shadowmesh/mtclient/shared/crypto"
	"github.com/shadowmesh/mtclient/shared/obfuscation"
	"github.com/shadowmesh/mtclient/shared/transport"
)

const version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "mtproto-client",
		Short:   "Minimal MTProto 2.0 client CLI",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "mtclient.yaml", "path to configuration file")

	root.AddCommand(connectCmd(), pingCmd(), sendTestRPCCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("mtproto-client: %v", err)
	}
}

func connectCmd() *cobra.Command {
	var dcID int32
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Dial a datacenter, complete the handshake, and hold the connection open",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, cfg, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			cl.Start(ctx)
			defer cl.Stop()

			if err := cl.Send(ctx, dcID, nil); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			fmt.Printf("connected to dc %d\n", dcID)

			_ = cfg
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Int32Var(&dcID, "dc", 2, "datacenter id")
	return cmd
}

func pingCmd() *cobra.Command {
	var dcID int32
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Dial a datacenter, complete the handshake, and report how long that took; no keepalive ping is sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cl.Start(ctx)
			defer cl.Stop()

			start := time.Now()
			if err := cl.Send(ctx, dcID, nil); err != nil {
				return fmt.Errorf("ping: dial: %w", err)
			}
			fmt.Printf("dc %d reachable in %v\n", dcID, time.Since(start))
			return nil
		},
	}
	cmd.Flags().Int32Var(&dcID, "dc", 2, "datacenter id")
	return cmd
}

func sendTestRPCCmd() *cobra.Command {
	var dcID int32
	var payloadHex string
	cmd := &cobra.Command{
		Use:   "send-test-rpc",
		Short: "Send a raw hex-encoded payload to a datacenter and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := hex.DecodeString(payloadHex)
			if err != nil {
				return fmt.Errorf("send-test-rpc: bad --payload hex: %w", err)
			}

			cl, _, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cl.Start(ctx)
			defer cl.Stop()

			if err := cl.Send(ctx, dcID, body); err != nil {
				return fmt.Errorf("send-test-rpc: %w", err)
			}

			select {
			case msg := <-cl.Updates():
				fmt.Printf("reply msg_id=%d body=%s\n", msg.MsgID, hex.EncodeToString(msg.Body))
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&dcID, "dc", 2, "datacenter id")
	cmd.Flags().StringVar(&payloadHex, "payload", "", "hex-encoded TL payload to send")
	return cmd
}

// newClient loads configuration and wires a pkg/client.Client ready to
// Start, sharing the datacenter resolver and RSA key table across every
// subcommand.
func newClient() (*client.Client, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	seeds := make([]dcresolver.DataCenter, 0, len(cfg.DataCenters.Seeds))
	for _, s := range cfg.DataCenters.Seeds {
		seeds = append(seeds, dcresolver.DataCenter{
			ID: s.ID, Address: s.Address, MediaOnly: s.MediaOnly, CDN: s.CDN,
		})
	}
	resolver, err := dcresolver.NewResolver(dcresolver.Config{
		Host: cfg.Redis.Host, Port: cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB, TTL: cfg.Redis.TTL,
	}, seeds)
	if err != nil {
		return nil, nil, fmt.Errorf("connect resolver: %w", err)
	}

	rsaKeys := make(map[int64]*crypto.RSAPublicKey)
	for _, k := range cfg.RSAKeys {
		pub, err := crypto.ParseRSAPublicKeyPEM([]byte(k.PublicKey))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mtproto-client: skipping unparsable RSA key (fingerprint %d): %v\n", k.Fingerprint, err)
			continue
		}
		rsaKeys[pub.Fingerprint()] = pub
	}

	var kind socket.Kind
	switch cfg.Transport.Socket {
	case "quic":
		kind = socket.KindQUIC
	case "ws":
		kind = socket.KindWS
	default:
		kind = socket.KindTCP
	}

	framerFactory := func() transport.Framer {
		switch cfg.Transport.Framing {
		case "abridged":
			return transport.NewAbridged()
		case "full":
			return transport.NewFull()
		case "padded_intermediate":
			return transport.NewPaddedIntermediate(crypto.RandomPadding)
		default:
			return transport.NewIntermediate()
		}
	}

	var secret []byte
	if cfg.Transport.Secret != "" {
		secret = obfuscation.NormalizeSecret(cfg.Transport.Secret)
	}

	logger, err := logging.NewLogger("client", logLevelFor(cfg.Logging.Level), cfg.Logging.OutputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open logger: %w", err)
	}

	var auditLog *audit.Log
	if cfg.Audit.Host != "" {
		auditLog, err = audit.NewLog(audit.Config{
			Host: cfg.Audit.Host, Port: cfg.Audit.Port, User: cfg.Audit.User,
			Password: cfg.Audit.Password, DBName: cfg.Audit.DBName, SSLMode: cfg.Audit.SSLMode,
		})
		if err != nil {
			logger.Warn("handshake audit log unavailable", logging.Fields{"error": err.Error()})
		}
	}

	cl := client.New(client.Options{
		Kind:        kind,
		Framer:      framerFactory,
		Obfuscated:  cfg.Transport.Obfuscated,
		ProtocolTag: cfg.Transport.ProtocolTag,
		Secret:      secret,
		RSAKeys:     rsaKeys,
		Resolver:    resolver,
		Logger:      logger,
		Audit:       auditLog,
	})
	return cl, cfg, nil
}

func logLevelFor(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.DEBUG
	case "warn":
		return logging.WARN
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}
