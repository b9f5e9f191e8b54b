// Package repository provides the PostgreSQL persistence of browser
// sessions for the back-office server.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atinyakov/buildsite/internal/models"
	"github.com/lib/pq"
)

// SessionRecord is the stored state of one browser session.
type SessionRecord struct {
	Token string
	// User is the account the token was last verified for, or nil.
	User *models.User
}

// PostgresSessionRepository stores the bearer token of each browser session.
type PostgresSessionRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresSessionRepository creates a repository over db.
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{DB: db}
}

// CreateSession registers a new, token-less session id.
func (r *PostgresSessionRepository) CreateSession(ctx context.Context, sid string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO browser_sessions (sid) VALUES ($1) ON CONFLICT DO NOTHING`,
		sid,
	)
	if err != nil {
		return fmt.Errorf("CreateSession: %w", err)
	}
	return nil
}

// GetToken returns the token stored for sid and whether the session exists.
// An existing session without a token yields ("", true, nil).
func (r *PostgresSessionRepository) GetToken(ctx context.Context, sid string) (string, bool, error) {
	var token string
	err := r.DB.QueryRowContext(ctx,
		`SELECT token FROM browser_sessions WHERE sid = $1`,
		sid,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GetToken: %w", err)
	}
	return token, true, nil
}

// GetSession returns the stored token and verified user of sid and whether
// the session exists.
func (r *PostgresSessionRepository) GetSession(ctx context.Context, sid string) (SessionRecord, bool, error) {
	var (
		rec      SessionRecord
		userData string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT token, user_data FROM browser_sessions WHERE sid = $1`,
		sid,
	).Scan(&rec.Token, &userData)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("GetSession: %w", err)
	}
	if userData != "" {
		var u models.User
		if err := json.Unmarshal([]byte(userData), &u); err != nil {
			return SessionRecord{}, false, fmt.Errorf("GetSession: decode user: %w", err)
		}
		rec.User = &u
	}
	return rec, true, nil
}

// SaveUser records the verified user of sid's current token.
func (r *PostgresSessionRepository) SaveUser(ctx context.Context, sid string, user *models.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("SaveUser: %w", err)
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE browser_sessions SET user_data = $2, updated_at = now() WHERE sid = $1`,
		sid, string(b),
	)
	if err != nil {
		return fmt.Errorf("SaveUser: %w", err)
	}
	return nil
}

// SaveToken stores token for sid, creating the session if needed. The user
// verified for a previous token is dropped.
func (r *PostgresSessionRepository) SaveToken(ctx context.Context, sid, token string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO browser_sessions (sid, token) VALUES ($1, $2)
		ON CONFLICT (sid) DO UPDATE SET
			token = EXCLUDED.token,
			user_data = '',
			updated_at = now()
	`, sid, token)
	if err != nil {
		return fmt.Errorf("SaveToken: %w", err)
	}
	return nil
}

// ClearToken removes the token and user of sid but keeps the session.
func (r *PostgresSessionRepository) ClearToken(ctx context.Context, sid string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE browser_sessions SET token = '', user_data = '', updated_at = now() WHERE sid = $1`,
		sid,
	)
	if err != nil {
		return fmt.Errorf("ClearToken: %w", err)
	}
	return nil
}

// Touch marks sid as recently used so the cleaner keeps it.
func (r *PostgresSessionRepository) Touch(ctx context.Context, sid string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE browser_sessions SET updated_at = now() WHERE sid = $1`,
		sid,
	)
	if err != nil {
		return fmt.Errorf("Touch: %w", err)
	}
	return nil
}

// DeleteSessions removes the given sessions.
func (r *PostgresSessionRepository) DeleteSessions(ctx context.Context, sids ...string) error {
	if len(sids) == 0 {
		return nil
	}
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE sid = ANY($1)`,
		pq.Array(sids),
	)
	if err != nil {
		return fmt.Errorf("DeleteSessions: %w", err)
	}
	return nil
}
