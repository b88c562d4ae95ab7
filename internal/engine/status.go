package engine

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/outbox"
)

const (
	errorRingCapacity = 50
	recentErrorCount  = 10
)

type ErrorEntry struct {
	Time      time.Time `json:"time"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
}

// Status is the aggregate view surfaced to the host UI.
type Status struct {
	Pending     int64        `json:"pending"`
	Pushing     int64        `json:"pushing"`
	Quarantined int64        `json:"quarantined"`
	LastSync    *time.Time   `json:"last_sync"`
	Errors      []ErrorEntry `json:"errors"`
	Online      bool         `json:"online"`
	Cursor      string       `json:"cursor,omitempty"`
	DeviceID    string       `json:"device_id"`
	Available   bool         `json:"available"`
}

// GetStatus counts pending (pending plus failed) and pushing records and returns the newest recorded errors.
// Storage failures degrade to zero counts.
func (e *Engine) GetStatus(ctx context.Context) Status {
	status := Status{
		Errors:    e.errs.recent(recentErrorCount),
		Online:    e.online(),
		DeviceID:  e.deviceID,
		Available: e.Available(),
	}
	if !e.Available() {
		return status
	}

	pending := e.store.CountByStatus(ctx, enums.OutboxStatusPending)
	failed := e.store.CountByStatus(ctx, enums.OutboxStatusFailed)
	status.Pending = pending + failed
	status.Pushing = e.store.CountByStatus(ctx, enums.OutboxStatusPushing)
	status.Quarantined = e.store.CountQuarantined(ctx, e.maxAttempts)

	e.metrics.SetOutbox(string(enums.OutboxStatusPending), pending)
	e.metrics.SetOutbox(string(enums.OutboxStatusFailed), failed)
	e.metrics.SetOutbox(string(enums.OutboxStatusPushing), status.Pushing)

	if ts, err := e.meta.GetTime(ctx, outbox.MetaLastSync); err == nil {
		status.LastSync = ts
	}
	if raw, ok, err := e.meta.Get(ctx, outbox.MetaPullCursor); err == nil && ok {
		status.Cursor = raw
	}
	return status
}

// errorRing keeps the last N failures, dropping the oldest first.
type errorRing struct {
	mu      sync.Mutex
	entries []ErrorEntry
	limit   int
}

func newErrorRing(limit int) *errorRing {
	return &errorRing{limit: limit}
}

func (r *errorRing) add(ts time.Time, operation, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, ErrorEntry{Time: ts.UTC(), Operation: operation, Error: msg})
	if over := len(r.entries) - r.limit; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

// recent returns up to n entries, oldest first.
func (r *errorRing) recent(n int) []ErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := len(r.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]ErrorEntry, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out
}
