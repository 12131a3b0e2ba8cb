// internal/messaging/cursor.go
// Keyset pagination over (sort key DESC, id DESC). The cursor is the last
// row of the previous page, so rows sharing a timestamp are never skipped
// or repeated.

package messaging

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

type Cursor struct {
	SortKey time.Time
	ID      int64
}

type cursorWire struct {
	T  string `json:"t"`
	ID int64  `json:"id"`
}

// Encode returns the opaque client form
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(cursorWire{T: c.SortKey.UTC().Format(time.RFC3339Nano), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Before reports whether a row sorts after the cursor, i.e. belongs to the next page
func (c *Cursor) Before(sortKey time.Time, id int64) bool {
	if c == nil {
		return true
	}
	if sortKey.Equal(c.SortKey) {
		return id < c.ID
	}
	return sortKey.Before(c.SortKey)
}

// DecodeCursor parses a client cursor. An empty string is the first page.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var wire cursorWire
	if err := json.Unmarshal(raw, &wire); err != nil || wire.ID <= 0 {
		return nil, ErrInvalidCursor
	}

	t, err := time.Parse(time.RFC3339Nano, wire.T)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{SortKey: t, ID: wire.ID}, nil
}

// pageSize clamps a requested limit
func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
