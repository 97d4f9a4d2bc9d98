// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default connection retry settings.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
)

// PoolConfig controls how Connect opens the pool.
type PoolConfig struct {
	URL string
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
	// Attempts is the number of pings tried before giving up.
	Attempts uint64
	// Backoff is the base delay of the exponential retry schedule.
	Backoff time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Attempts == 0 {
		c.Attempts = DefaultConnectAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultConnectBackoff
	}
	return c
}

// Connect opens a pgx pool and pings it until the database answers, backing
// off exponentially between attempts. The pool is closed if no ping succeeds.
func Connect(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	// WithMaxRetries counts retries, so one fewer than attempts.
	backoff := retry.WithMaxRetries(cfg.Attempts-1, retry.NewExponential(cfg.Backoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not ready",
				"attempt", attempt,
				"max_attempts", cfg.Attempts,
				"error", pingErr,
			)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Info("database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}
