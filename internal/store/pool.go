// Package store is the time-series warehouse: schema migrations and typed
// queries over markets, price snapshots, order-book snapshots, trades, and
// resolutions.
//
// The connection pool is created once by the caller (main) and threaded
// through every collector's constructor — no package-level singleton. This
// mirrors the lifecycle contract of the upstream source's asyncpg pool
// (init once, close once, safe repeat) without the hidden global.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"polymarket-collector/internal/config"
)

// Store wraps a pgx connection pool and exposes all typed operations used by
// the collectors and analytics layer.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates the connection pool per the supplied database config and
// verifies connectivity with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MinConns = cfg.MinPoolSize
	poolCfg.MaxConns = cfg.MaxPoolSize
	if cfg.MaxInactiveConnectionLifetime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxInactiveConnectionLifetime
	}
	if cfg.CommandTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.CommandTimeout
	} else {
		poolCfg.ConnConfig.ConnectTimeout = 60 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections. Safe to call once; a second call
// is a no-op in pgxpool itself.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pgx pool for the migration runner.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
