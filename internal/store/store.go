// Package store persists conversations and their turns.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the PostgreSQL implementation.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            UUID PRIMARY KEY,
	owner_id      TEXT NOT NULL DEFAULT '',
	visitor_name  TEXT NOT NULL DEFAULT '',
	visitor_email TEXT NOT NULL DEFAULT '',
	visitor_token TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	seq             BIGSERIAL,
	id              UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender          TEXT NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	read            BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS messages_conversation_order ON messages (conversation_id, created_at, seq);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// normalizeDSN rewrites driver-suffixed URLs (postgresql+asyncpg://) that
// show up in shared .env files.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql+asyncpg://", "postgres+asyncpg://", "postgresql+pgx://", "postgres+pgx://"} {
		if strings.HasPrefix(s, prefix) {
			return "postgres://" + strings.TrimPrefix(s, prefix)
		}
	}
	return s
}
