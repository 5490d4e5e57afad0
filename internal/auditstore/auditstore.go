// Package auditstore is a best-effort Postgres mirror of the admin audit
// trail. It is additive: the proxy and admin surface function
// identically whether or not AUDIT_DATABASE_URL is configured, and every
// write failure here is logged, never surfaced to a caller.
package auditstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/edge-proxy/internal/audit"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store mirrors audit.Event rows into a Postgres table. It implements
// audit.Mirror so internal/audit has no compile-time database dependency.
type Store struct {
	conn *sql.DB
}

// Connect opens the database, runs goose migrations, and configures pool
// limits the way the teacher's database.Connect does.
func Connect(databaseURL string) (*Store, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("auditstore: couldn't open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("auditstore: database not responding: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("auditstore: couldn't set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return nil, fmt.Errorf("auditstore: migration failed: %w", err)
	}

	return &Store{conn: conn}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Write persists one audit event. It satisfies audit.Mirror.
func (s *Store) Write(e audit.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("auditstore: couldn't marshal detail: %w", err)
	}

	_, err = s.conn.Exec(
		`INSERT INTO audit_events (id, event, action, result, admin_identity, ip, request_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), e.EventName, e.Action, e.Result, e.AdminIdentity, e.IP, e.RequestID, detail, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("auditstore: couldn't insert audit event: %w", err)
	}
	return nil
}
