// Package record models the booking records owned by the host system.
//
// A Record is an integer id plus an unordered metadata mapping whose keys
// and value types are not guaranteed. The bridge reads records and writes
// its own delivery bookkeeping back into the same metadata mapping.
package record

import (
	"errors"
	"time"

	"github.com/spf13/cast"
)

// StatusPublish is the host publish status that makes a record eligible.
const StatusPublish = "publish"

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("record: not found")

// Meta is the loosely-typed metadata mapping of a record.
type Meta map[string]any

// Record is a single booking entry as seen by the bridge.
type Record struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Meta      Meta      `json:"meta"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Published reports whether the record is in the host publish state.
func (r *Record) Published() bool {
	return r != nil && r.Status == StatusPublish
}

// Clone returns a copy of the record with its own metadata map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Meta = make(Meta, len(r.Meta))
	for k, v := range r.Meta {
		cp.Meta[k] = v
	}
	return &cp
}

// Lookup returns the value stored under key, unwrapping single-element
// lists. A key holding nil counts as absent.
func (m Meta) Lookup(key string) (any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	v = Unwrap(v)
	if v == nil {
		return nil, false
	}
	return v, true
}

// String returns the value under key converted to a string, or "".
func (m Meta) String(key string) string {
	v, ok := m.Lookup(key)
	if !ok {
		return ""
	}
	return cast.ToString(v)
}

// Unwrap returns the first element of a list value. Host metadata APIs
// return every value as a list unless asked for a single one.
func Unwrap(v any) any {
	switch l := v.(type) {
	case []any:
		if len(l) == 0 {
			return nil
		}
		return l[0]
	case []string:
		if len(l) == 0 {
			return nil
		}
		return l[0]
	}
	return v
}
