// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// DefaultJanitorInterval is how often expired rows are swept.
const DefaultJanitorInterval = time.Hour

// Janitor periodically deletes expired sessions and ephemeral tokens.
type Janitor struct {
	sessions SessionRepository
	tokens   EphemeralTokenRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor creates a Janitor. A non-positive interval uses the default.
func NewJanitor(sessions SessionRepository, tokens EphemeralTokenRepository, interval time.Duration, logger *slog.Logger) (*Janitor, error) {
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{sessions: sessions, tokens: tokens, interval: interval, logger: logger, now: time.Now}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.WarnContext(ctx, "janitor sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired sessions and expired unused tokens.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()

	sessions, err := j.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("JANITOR_SWEEP_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	tokens, err := j.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("JANITOR_SWEEP_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}

	if sessions > 0 || tokens > 0 {
		j.logger.InfoContext(ctx, "expired credentials removed",
			"sessions", sessions,
			"tokens", tokens)
	}
	return nil
}
