// Package db opens the back-office database and keeps it tidy.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// schema holds one row per browser: the bearer token that browser's
// session manager persisted and the user it was verified for, keyed by the
// opaque session cookie.
const schema = `
CREATE TABLE IF NOT EXISTS browser_sessions (
    sid TEXT PRIMARY KEY,
    token TEXT NOT NULL DEFAULT '',
    user_data TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE browser_sessions ADD COLUMN IF NOT EXISTS user_data TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS browser_sessions_updated_at_idx ON browser_sessions (updated_at);
`

const connectTimeout = 5 * time.Second

// InitPostgres connects to dsn, tunes the pool and creates the schema.
func InitPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate creates the tables the server needs. It is safe to run repeatedly.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
