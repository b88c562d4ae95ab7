package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLimit is the standard page size for local listings.
	DefaultLimit = 50
	// MaxLimit caps how many rows a local listing can request.
	MaxLimit = 500

	// MaxPullPageSize is the contractual upper bound on changes per pull page.
	MaxPullPageSize = 500
	// DefaultMaxPullPages bounds one pull run when the server keeps reporting more.
	DefaultMaxPullPages = 10
)

// Params holds keyset pagination inputs from handlers or services.
type Params struct {
	Limit  int
	Cursor string
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer returns the normalization result plus one to detect the next page.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// NormalizePullPageSize clamps a configured pull page size into (0, MaxPullPageSize].
func NormalizePullPageSize(size int) int {
	if size <= 0 || size > MaxPullPageSize {
		return MaxPullPageSize
	}
	return size
}

// KeysetCursor points after one row of an outbox listing ordered by (client_timestamp, op_id).
type KeysetCursor struct {
	ClientTimestamp time.Time
	OpID            string
}

// EncodeCursor builds a base64 cursor string from the provided values.
func EncodeCursor(cursor KeysetCursor) string {
	payload := fmt.Sprintf("%s|%s", cursor.ClientTimestamp.UTC().Format(time.RFC3339Nano), cursor.OpID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes the cursor string back into its components. Empty input yields nil.
func ParseCursor(value string) (*KeysetCursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return &KeysetCursor{
		ClientTimestamp: t,
		OpID:            parts[1],
	}, nil
}

// Cursor is the server's opaque pull position. The server may send it as a JSON
// number or a JSON string; it is kept verbatim as text.
type Cursor string

// InitialCursor is used when no cursor has been persisted yet.
const InitialCursor Cursor = "0"

func (c Cursor) String() string {
	return string(c)
}

// IsZero reports whether the cursor carries no position.
func (c Cursor) IsZero() bool {
	return strings.TrimSpace(string(c)) == ""
}

// OrInitial returns c, or InitialCursor when c is empty.
func (c Cursor) OrInitial() Cursor {
	if c.IsZero() {
		return InitialCursor
	}
	return c
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode cursor: %w", err)
		}
		*c = Cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cursor must be a string or number: %w", err)
	}
	*c = Cursor(n.String())
	return nil
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}
