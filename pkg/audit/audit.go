// Package audit appends a non-secret record of every completed handshake to
// Postgres: the datacenter, the client/server clock skew observed, the RSA
// key fingerprint used, and when it finished. It never stores auth_key
// material — only what's needed to investigate a datacenter's handshake
// health after the fact.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Record is one completed handshake's auditable metadata.
type Record struct {
	DCID          int32
	TimeDeltaMS   int64 // client clock delta vs. server time, in milliseconds
	KeyFingerprint int64
	CompletedAt   time.Time
}

// Config holds the Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Log is a Postgres-backed append-only handshake audit log.
type Log struct {
	db *sql.DB
}

// NewLog connects to Postgres and ensures the schema exists.
func NewLog(config Config) (*Log, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("audit: connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	l := &Log{db: db}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}

	log.Println("audit: postgres connection established")
	return l, nil
}

func (l *Log) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS handshakes (
		id SERIAL PRIMARY KEY,
		dc_id INTEGER NOT NULL,
		time_delta_ms BIGINT NOT NULL,
		key_fingerprint BIGINT NOT NULL,
		completed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_handshakes_dc_id ON handshakes(dc_id);
	CREATE INDEX IF NOT EXISTS idx_handshakes_completed_at ON handshakes(completed_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append records one completed handshake.
func (l *Log) Append(r Record) error {
	query := `
		INSERT INTO handshakes (dc_id, time_delta_ms, key_fingerprint, completed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := l.db.Exec(query, r.DCID, r.TimeDeltaMS, r.KeyFingerprint, r.CompletedAt)
	return err
}

// Recent returns the most recent n handshake records for a datacenter, most
// recent first.
func (l *Log) Recent(dcID int32, n int) ([]Record, error) {
	query := `
		SELECT dc_id, time_delta_ms, key_fingerprint, completed_at
		FROM handshakes
		WHERE dc_id = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`
	rows, err := l.db.Query(query, dcID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.DCID, &r.TimeDeltaMS, &r.KeyFingerprint, &r.CompletedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteOlderThan prunes records completed before the given duration ago,
// returning the number of rows removed.
func (l *Log) DeleteOlderThan(age time.Duration) (int, error) {
	query := `DELETE FROM handshakes WHERE completed_at < $1`
	result, err := l.db.Exec(query, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}
	rowsAffected, err := result.RowsAffected()
	return int(rowsAffected), err
}

// Close closes the database connection.
func (l *Log) Close() error {
	log.Println("audit: closing postgres connection")
	return l.db.Close()
}
