package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresKV struct {
	db *sql.DB
}

func NewPostgresKV(db *sql.DB) (*PostgresKV, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresKV{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresKV) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS console_storage (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure console_storage schema: %w", err)
	}
	return nil
}

func (s *PostgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	const q = `SELECT value FROM console_storage WHERE key = $1`
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query storage key %q: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresKV) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO console_storage (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value,
	updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("upsert storage key %q: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `DELETE FROM console_storage WHERE key = ANY($1)`
	if _, err := s.db.ExecContext(ctx, q, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete storage keys: %w", err)
	}
	return nil
}
