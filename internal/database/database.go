package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Having the migration in code
// keeps the stack self-contained so docker-compose can bootstrap everything.
// The UNIQUE constraint on (user_id, request_id) is what makes recording
// idempotent; it is not a best-effort check.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id BIGINT PRIMARY KEY,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	daily_calorie_target INT,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_requests (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	object_key TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	captured_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_requests_user ON analysis_requests(user_id, status);
CREATE TABLE IF NOT EXISTS ledger_entries (
	user_id BIGINT NOT NULL,
	day DATE NOT NULL,
	request_id TEXT NOT NULL,
	calories REAL NOT NULL,
	protein_g REAL NOT NULL,
	fat_g REAL NOT NULL,
	carbs_g REAL NOT NULL,
	confidence TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, request_id)
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_day ON ledger_entries(user_id, day);
CREATE TABLE IF NOT EXISTS daily_aggregates (
	user_id BIGINT NOT NULL,
	day DATE NOT NULL,
	calories REAL NOT NULL DEFAULT 0,
	protein_g REAL NOT NULL DEFAULT 0,
	fat_g REAL NOT NULL DEFAULT 0,
	carbs_g REAL NOT NULL DEFAULT 0,
	entry_count INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, day)
);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
