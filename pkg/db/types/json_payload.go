package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONPayload holds an opaque JSON document. It is stored as text so the same
// value round-trips through SQLite BLOB/TEXT and Postgres JSONB columns.
type JSONPayload []byte

func (p *JSONPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(JSONPayload(nil), v...)
	case string:
		*p = JSONPayload(v)
	default:
		return fmt.Errorf("JSONPayload: unsupported Scan type %T", src)
	}
	return nil
}

func (p JSONPayload) Value() (driver.Value, error) {
	if p.IsNull() {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, fmt.Errorf("JSONPayload: invalid json")
	}
	return string(p), nil
}

// IsNull reports whether the payload is absent or the JSON literal null.
func (p JSONPayload) IsNull() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if p.IsNull() {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("JSONPayload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Raw returns the payload as json.RawMessage, nil when absent.
func (p JSONPayload) Raw() json.RawMessage {
	if p.IsNull() {
		return nil
	}
	return json.RawMessage(p)
}
