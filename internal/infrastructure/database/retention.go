package database

import (
	"context"
	"time"
)

// DefaultPruneInterval is how often RunRetention prunes when no interval is set.
const DefaultPruneInterval = time.Hour

// Pruner deletes rows older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Logger defines the logging interface used by RunRetention.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Retention configures periodic pruning.
type Retention struct {
	// Keep is the retention window. Non-positive disables pruning.
	Keep time.Duration
	// Interval is the time between prunes.
	Interval time.Duration
}

// RunRetention prunes once immediately and then every interval until ctx is
// done. Prune failures are logged and retried on the next tick.
func RunRetention(ctx context.Context, r Retention, p Pruner, logger Logger) {
	if r.Keep <= 0 || p == nil {
		return
	}
	if r.Interval <= 0 {
		r.Interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		n, err := p.Prune(ctx, r.Keep)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("pruning state history failed", "error", err)
		case n > 0:
			logger.Info("pruned state history", "rows", n, "older_than", r.Keep)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
