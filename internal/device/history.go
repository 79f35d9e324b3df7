package device

import (
	"context"
	"time"
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryEntry is one recorded commit.
type HistoryEntry struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`
	// State is the full committed state.
	State State `json:"state"`
	// Patch is the accepted change; empty for remote replacements.
	Patch  State     `json:"patch,omitempty"`
	Source Source    `json:"source"`
	At     time.Time `json:"at"`
}

// HistoryQuery selects entries of one device, newest first.
type HistoryQuery struct {
	// Limit bounds the result. Zero selects DefaultHistoryLimit; larger values
	// are clamped to MaxHistoryLimit.
	Limit int
	// Since excludes entries at or before it. Zero means unbounded.
	Since time.Time
}

func (q HistoryQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return q.Limit
	}
}

// History stores committed states.
//
// Implementations must be safe for concurrent use.
type History interface {
	// Record appends a commit.
	Record(ctx context.Context, c Commit) error

	// Entries returns entries of deviceID matching q, newest first.
	Entries(ctx context.Context, deviceID string, q HistoryQuery) ([]HistoryEntry, error)
}

// HistoryObserver returns a commit observer that records every commit in h.
// Failures are logged and never affect the commit itself.
func HistoryObserver(h History, logger Logger, timeout time.Duration) func(Commit) {
	return func(c Commit) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := h.Record(ctx, c); err != nil {
			logger.Warn("recording state history failed", "device_id", c.DeviceID, "source", c.Source, "error", err)
		}
	}
}
