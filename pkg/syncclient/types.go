package syncclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	dbtypes "github.com/angelmondragon/vetsync/pkg/db/types"
	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/pagination"
)

// Op is one outbox record in push wire format.
type Op struct {
	OpID        string              `json:"op_id"`
	EntityType  string              `json:"entity_type"`
	EntityID    string              `json:"entity_id"`
	ChangeType  enums.ChangeType    `json:"change_type"`
	Record      dbtypes.JSONPayload `json:"record"`
	BaseVersion *int64              `json:"base_version"`
	ClientTS    *string             `json:"client_ts"`
}

type PushRequest struct {
	DeviceID string `json:"device_id"`
	Ops      []Op   `json:"ops"`
}

type Rejection struct {
	OpID   string `json:"op_id"`
	Reason string `json:"reason"`
}

type PushResponse struct {
	Accepted AcceptedIDs `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// AcceptedIDs decodes either ["op", ...] or [{"op_id": "op", ...}, ...].
type AcceptedIDs []string

func (a *AcceptedIDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("accepted must be an array: %w", err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '"':
			var id string
			if err := json.Unmarshal(item, &id); err != nil {
				return fmt.Errorf("decode accepted id: %w", err)
			}
			ids = append(ids, id)
		case '{':
			var obj struct {
				OpID string `json:"op_id"`
			}
			if err := json.Unmarshal(item, &obj); err != nil {
				return fmt.Errorf("decode accepted entry: %w", err)
			}
			if obj.OpID != "" {
				ids = append(ids, obj.OpID)
			}
		default:
			return fmt.Errorf("unexpected accepted entry %s", string(item))
		}
	}
	*a = ids
	return nil
}

// Change is one remote mutation returned by pull.
type Change struct {
	EntityType string              `json:"entity_type"`
	EntityID   string              `json:"entity_id"`
	ChangeType enums.ChangeType    `json:"change_type"`
	Record     dbtypes.JSONPayload `json:"record"`
	Version    json.RawMessage     `json:"version,omitempty"`
	ClientTS   Timestamp           `json:"client_ts"`
	CreatedAt  Timestamp           `json:"created_at"`
}

// RemoteTime is the instant used for last-write-wins: client_ts, then created_at, then the epoch.
func (c Change) RemoteTime() time.Time {
	if c.ClientTS.Valid {
		return c.ClientTS.Time
	}
	if c.CreatedAt.Valid {
		return c.CreatedAt.Time
	}
	return time.Unix(0, 0).UTC()
}

type PullPage struct {
	Changes    []Change          `json:"changes"`
	Cursor     pagination.Cursor `json:"cursor"`
	NextCursor pagination.Cursor `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// Position returns the cursor to resume from after this page; empty when the server sent none.
func (p PullPage) Position() pagination.Cursor {
	if !p.NextCursor.IsZero() {
		return p.NextCursor
	}
	return p.Cursor
}

// Timestamp accepts RFC3339 strings or unix-millisecond numbers. Anything else decodes as absent.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if ts, ok := ParseTimestamp(s); ok {
			*t = Timestamp{Time: ts, Valid: true}
		}
		return nil
	}
	if ms, err := strconv.ParseFloat(string(data), 64); err == nil {
		*t = Timestamp{Time: time.UnixMilli(int64(ms)).UTC(), Valid: true}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp parses RFC3339 (with or without fractional seconds) or a unix-millisecond string.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
