// Package sweeper runs the periodic session-expiry and revocation-set
// maintenance, and closes live connections whose access token ran out.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

type ConnectionReaper interface {
	CloseExpired(ctx context.Context) int
}

type Sweeper struct {
	Sessions    SessionSweeper
	Revoked     Pruner
	Connections ConnectionReaper
	Interval    time.Duration
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Once(ctx)
		}
	}
}

// Once runs a single pass. Failures are logged and retried on the next tick.
func (s *Sweeper) Once(ctx context.Context) {
	if s.Sessions != nil {
		if _, err := s.Sessions.SweepExpired(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("session sweep failed", "err", err)
		}
	}
	if s.Revoked != nil {
		n, err := s.Revoked.Prune(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Warn("revocation prune failed", "err", err)
		case n > 0:
			slog.Debug("revocation set pruned", "count", n)
		}
	}
	if s.Connections != nil {
		if n := s.Connections.CloseExpired(ctx); n > 0 {
			slog.Info("expired connections closed", "count", n)
		}
	}
}
