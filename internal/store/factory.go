package store

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oslabs-beta/graphqlgate/internal/config"
	"github.com/rs/zerolog/log"
)

// NewStore creates a state backend based on the store configuration.
//
// Backend options:
// - "memory": In-memory store (default for single instance)
// - "postgres": PostgreSQL-backed store (for multi-instance without Redis)
// - "redis": Redis-compatible store (Dragonfly recommended for high scale)
//
// The pool parameter is required for the "postgres" backend.
// cfg.RedisURL is required for the "redis" backend.
func NewStore(cfg *config.StoreConfig, pool *pgxpool.Pool) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		log.Info().Msg("Using in-memory rate limit store (single instance mode)")
		return NewMemoryStore(10 * time.Minute), nil

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres rate limit backend")
		}
		log.Info().Msg("Using PostgreSQL rate limit store (multi-instance mode)")
		return NewPostgresStore(pool), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis rate limit backend")
		}
		log.Info().Msg("Using Redis-compatible rate limit store (high-scale mode)")
		s, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s (valid options: memory, postgres, redis)", cfg.Backend)
	}
}
