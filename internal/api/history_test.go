package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// memHistory records the last query it saw.
type memHistory struct {
	entries []device.HistoryEntry
	err     error
	query   device.HistoryQuery
	called  bool
}

func (m *memHistory) Record(_ context.Context, c device.Commit) error {
	m.entries = append([]device.HistoryEntry{{DeviceID: c.DeviceID, State: c.State, Source: c.Source, At: c.Timestamp}}, m.entries...)
	return nil
}

func (m *memHistory) Entries(_ context.Context, deviceID string, q device.HistoryQuery) ([]device.HistoryEntry, error) {
	m.called = true
	m.query = q
	if m.err != nil {
		return nil, m.err
	}
	var out []device.HistoryEntry
	for _, e := range m.entries {
		if e.DeviceID == deviceID && (q.Since.IsZero() || e.At.After(q.Since)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestHandleHistory(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	seeded := func() *memHistory {
		return &memHistory{entries: []device.HistoryEntry{
			{ID: 2, DeviceID: "light-1", State: device.State{"on": true}, Source: device.SourceCommand, At: now},
			{ID: 1, DeviceID: "light-1", State: device.State{"on": false}, Source: device.SourceRemote, At: now.Add(-time.Hour)},
		}}
	}

	tests := []struct {
		name       string
		history    *memHistory
		path       string
		wantCode   int
		wantCount  int
		wantCalled bool
		wantLimit  int
	}{
		{"all entries", seeded(), "/devices/light-1/history", http.StatusOK, 2, true, 0},
		{"limit clamped", seeded(), "/devices/light-1/history?limit=1000", http.StatusOK, 2, true, device.MaxHistoryLimit},
		{"since filters", seeded(), "/devices/light-1/history?since=" + now.Add(-time.Minute).Format(time.RFC3339), http.StatusOK, 1, true, 0},
		{"empty history", &memHistory{}, "/devices/light-1/history", http.StatusOK, 0, true, 0},
		{"bad limit", seeded(), "/devices/light-1/history?limit=-1", http.StatusBadRequest, 0, false, 0},
		{"bad since", seeded(), "/devices/light-1/history?since=yesterday", http.StatusBadRequest, 0, false, 0},
		{"unknown device", seeded(), "/devices/nope/history", http.StatusNotFound, 0, false, 0},
		{"repository error", &memHistory{err: errors.New("disk full")}, "/devices/light-1/history", http.StatusInternalServerError, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, tt.history)
			rec := do(t, srv, http.MethodGet, tt.path, "")

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.history.called != tt.wantCalled {
				t.Errorf("repository called = %v, want %v", tt.history.called, tt.wantCalled)
			}
			if tt.history.query.Limit != tt.wantLimit {
				t.Errorf("query limit = %d, want %d", tt.history.query.Limit, tt.wantLimit)
			}
			if tt.wantCode != http.StatusOK {
				var p Problem
				if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil || p.Code == "" {
					t.Errorf("problem body = %s, %v", rec.Body.String(), err)
				}
				return
			}

			var body HistoryResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if body.Count != tt.wantCount || len(body.History) != tt.wantCount || body.History == nil {
				t.Errorf("count = %d (%v), want %d", body.Count, body.History, tt.wantCount)
			}
		})
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	srv, _ := testServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/devices/light-1/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
