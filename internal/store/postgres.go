package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store using PostgreSQL.
// This is suitable for multi-instance deployments without requiring Redis.
// Records live in a single table with an expiry column; expired rows are
// invisible to reads and pruned by Cleanup.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
// The store uses the gate_records table, which EnsureTable creates when it
// is missing.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
	}
}

// Get retrieves the record stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.pool.QueryRow(ctx, `
		SELECT value
		FROM gate_records
		WHERE key = $1 AND expires_at > NOW()
	`, key).Scan(&value)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set writes the record under key with the given TTL.
// Uses UPSERT so concurrent writers for the same key never conflict.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO gate_records (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)

	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to write rate limit record")
		return err
	}

	return nil
}

// FlushAll removes every record.
func (s *PostgresStore) FlushAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM gate_records`)
	return err
}

// Close is a no-op for PostgresStore as we don't own the connection pool.
func (s *PostgresStore) Close() error {
	return nil
}

// Cleanup removes expired entries from the gate_records table.
// This should be called periodically (e.g., by a background job or cron).
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM gate_records WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// EnsureTable creates the gate_records table if it doesn't exist.
// This is called during startup to ensure the table exists.
// In production, the table should be created via a migration.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gate_records (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_gate_records_expires_at
		ON gate_records (expires_at);
	`)
	return err
}
