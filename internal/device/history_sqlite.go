package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// historyTimeLayout is fixed-width so stored timestamps sort lexically.
const historyTimeLayout = "2006-01-02T15:04:05.000Z"

// SQLiteHistory is a History backed by the state_history table.
type SQLiteHistory struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistory creates a history over a migrated database.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db, now: time.Now}
}

// Record implements History. A zero commit timestamp records the current time.
func (h *SQLiteHistory) Record(ctx context.Context, c Commit) error {
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	if c.Source == "" {
		c.Source = SourceLocal
	}
	at := c.Timestamp
	if at.IsZero() {
		at = h.now()
	}

	state, err := encodeState(c.State)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	var patch sql.NullString
	if len(c.Patch) > 0 {
		encoded, err := encodeState(c.Patch)
		if err != nil {
			return fmt.Errorf("encoding patch: %w", err)
		}
		patch = sql.NullString{String: encoded, Valid: true}
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO state_history (device_id, state, patch, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.DeviceID, state, patch, string(c.Source), at.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// Entries implements History.
func (h *SQLiteHistory) Entries(ctx context.Context, deviceID string, q HistoryQuery) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}

	since := ""
	if !q.Since.IsZero() {
		since = q.Since.UTC().Format(historyTimeLayout)
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, device_id, state, patch, source, created_at
		 FROM state_history
		 WHERE device_id = ? AND created_at > ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID, since, q.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e              HistoryEntry
			state, created string
			patch          sql.NullString
			source         string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &state, &patch, &source, &created); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &e.State); err != nil {
			return nil, fmt.Errorf("decoding state of entry %d: %w", e.ID, err)
		}
		if patch.Valid {
			if err := json.Unmarshal([]byte(patch.String), &e.Patch); err != nil {
				return nil, fmt.Errorf("decoding patch of entry %d: %w", e.ID, err)
			}
		}
		if e.At, err = time.Parse(historyTimeLayout, created); err != nil {
			return nil, fmt.Errorf("parsing created_at of entry %d: %w", e.ID, err)
		}
		e.Source = Source(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (h *SQLiteHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}

	cutoff := h.now().Add(-olderThan).UTC().Format(historyTimeLayout)
	res, err := h.db.ExecContext(ctx, `DELETE FROM state_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}

func encodeState(s State) (string, error) {
	if s == nil {
		s = State{}
	}
	b, err := json.Marshal(s)
	return string(b), err
}
