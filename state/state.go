// Package state persists per-record delivery bookkeeping in the host
// metadata store. Keys are shared with the host admin screens and are never
// deleted by the bridge.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/xraph/flowbridge/payload"
	"github.com/xraph/flowbridge/record"
)

// Metadata keys written by the bridge.
const (
	KeySent             = "_qzb_sent_to_zoho"
	KeySentAt           = "_qzb_sent_at"
	KeyPayloadData      = "_qzb_payload_data"
	KeyPayloadJSON      = "_qzb_payload_json"
	KeyPayloadTimestamp = "_qzb_payload_timestamp"
	KeyRecheckCount     = "_qzb_recheck_count"
	KeyLastError        = "_qzb_last_error"
)

// TimeLayout is the timestamp format of the date keys.
const TimeLayout = "2006-01-02 15:04:05"

// State is the delivery bookkeeping of one record.
type State struct {
	RecordID     int64            `json:"record_id"`
	Sent         bool             `json:"sent"`
	SentAt       *time.Time       `json:"sent_at,omitempty"`
	Snapshot     *payload.Payload `json:"payload,omitempty"`
	SnapshotJSON string           `json:"payload_json,omitempty"`
	SnapshotAt   *time.Time       `json:"payload_timestamp,omitempty"`
	Rechecks     int              `json:"recheck_count"`
	LastError    string           `json:"last_error,omitempty"`
}

// Tracker reads and writes State through a metadata store.
type Tracker struct {
	store record.Store
	now   func() time.Time
}

// NewTracker returns a Tracker over store.
func NewTracker(store record.Store) *Tracker {
	return &Tracker{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Load reads the state of recordID. Missing keys yield zero values.
func (t *Tracker) Load(ctx context.Context, recordID int64) (*State, error) {
	st := &State{RecordID: recordID}

	get := func(key string) (any, error) {
		v, _, err := t.store.GetMeta(ctx, recordID, key)
		if err != nil {
			return nil, fmt.Errorf("state: get %s: %w", key, err)
		}
		return record.Unwrap(v), nil
	}

	v, err := get(KeySent)
	if err != nil {
		return nil, err
	}
	st.Sent = isTrue(v)

	if v, err = get(KeySentAt); err != nil {
		return nil, err
	}
	st.SentAt = parseTime(v)

	if v, err = get(KeyPayloadData); err != nil {
		return nil, err
	}
	if st.Snapshot, err = payload.Decode(v); err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	if v, err = get(KeyPayloadJSON); err != nil {
		return nil, err
	}
	st.SnapshotJSON = cast.ToString(v)

	if v, err = get(KeyPayloadTimestamp); err != nil {
		return nil, err
	}
	st.SnapshotAt = parseTime(v)

	if v, err = get(KeyRecheckCount); err != nil {
		return nil, err
	}
	st.Rechecks = cast.ToInt(v)

	if v, err = get(KeyLastError); err != nil {
		return nil, err
	}
	st.LastError = cast.ToString(v)

	return st, nil
}

// SaveSnapshot stores p in structured and pretty JSON form. It is called
// for every built payload, including ones that are not sent.
func (t *Tracker) SaveSnapshot(ctx context.Context, recordID int64, p *payload.Payload) error {
	pretty, err := payload.Pretty(p)
	if err != nil {
		return err
	}
	return t.set(ctx, recordID,
		KeyPayloadData, p,
		KeyPayloadJSON, pretty,
		KeyPayloadTimestamp, t.now().Format(TimeLayout),
	)
}

// MarkSent sets the sent marker and timestamp, clears the last error and
// resets the re-check counter.
func (t *Tracker) MarkSent(ctx context.Context, recordID int64) error {
	return t.set(ctx, recordID,
		KeySent, "1",
		KeySentAt, t.now().Format(TimeLayout),
		KeyLastError, "",
		KeyRecheckCount, 0,
	)
}

// IncrementRechecks bumps the re-check counter and returns the new value.
func (t *Tracker) IncrementRechecks(ctx context.Context, recordID int64) (int, error) {
	v, _, err := t.store.GetMeta(ctx, recordID, KeyRecheckCount)
	if err != nil {
		return 0, fmt.Errorf("state: get %s: %w", KeyRecheckCount, err)
	}
	n := cast.ToInt(record.Unwrap(v)) + 1
	if err := t.set(ctx, recordID, KeyRecheckCount, n); err != nil {
		return 0, err
	}
	return n, nil
}

// RecordFailure stores the last error message.
func (t *Tracker) RecordFailure(ctx context.Context, recordID int64, msg string) error {
	return t.set(ctx, recordID, KeyLastError, msg)
}

func (t *Tracker) set(ctx context.Context, recordID int64, kv ...any) error {
	for i := 0; i+1 < len(kv); i += 2 {
		key := kv[i].(string)
		if err := t.store.SetMeta(ctx, recordID, key, kv[i+1]); err != nil {
			return fmt.Errorf("state: set %s: %w", key, err)
		}
	}
	return nil
}

func isTrue(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case string:
		return b == "1" || b == "true" || b == "yes"
	default:
		return cast.ToBool(v)
	}
}

func parseTime(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case string:
		if t == "" {
			return nil
		}
		for _, layout := range []string{TimeLayout, time.RFC3339Nano} {
			if parsed, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

// ResetRechecks zeroes the re-check counter.
func (t *Tracker) ResetRechecks(ctx context.Context, recordID int64) error {
	return t.set(ctx, recordID, KeyRecheckCount, 0)
}
