// Package event defines the inbound triggers the bridge reacts to and their
// JSON transport form.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xraph/flowbridge/record"
)

// Envelope kinds.
const (
	KindSaved  = "saved"
	KindStatus = "status"
)

// ErrInvalidEnvelope is returned when an envelope cannot be decoded.
var ErrInvalidEnvelope = errors.New("event: invalid envelope")

// Saved fires on every create or update of a tracked record.
type Saved struct {
	RecordID int64 `json:"record_id"`

	// Record is the snapshot delivered with the event. When nil the record
	// is loaded from the store.
	Record *record.Record `json:"record,omitempty"`

	// IsUpdate is false for the first save of a record.
	IsUpdate bool `json:"is_update"`

	Autosave bool `json:"autosave,omitempty"`
	Revision bool `json:"revision,omitempty"`
}

// FirstPublish reports whether the save created the record.
func (s Saved) FirstPublish() bool { return !s.IsUpdate }

// StatusTransition fires when a record's publish state changes.
type StatusTransition struct {
	NewStatus string         `json:"new_status"`
	OldStatus string         `json:"old_status"`
	Record    *record.Record `json:"record"`
}

// FirstPublish reports whether the transition published the record for the
// first time.
func (s StatusTransition) FirstPublish() bool {
	return s.NewStatus == record.StatusPublish && s.OldStatus != record.StatusPublish
}

// Envelope is the wire form of either trigger, used by the HTTP and Kafka
// feeds.
type Envelope struct {
	Kind     string      `json:"kind"`
	RecordID int64       `json:"record_id"`
	Type     string      `json:"type,omitempty"`
	Status   string      `json:"status,omitempty"`
	Meta     record.Meta `json:"meta,omitempty"`

	IsUpdate bool `json:"is_update,omitempty"`
	Autosave bool `json:"autosave,omitempty"`
	Revision bool `json:"revision,omitempty"`

	NewStatus string `json:"new_status,omitempty"`
	OldStatus string `json:"old_status,omitempty"`
}

// Decode parses and checks an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the kind and record id.
func (e *Envelope) Validate() error {
	if e.RecordID <= 0 {
		return fmt.Errorf("%w: record_id must be positive", ErrInvalidEnvelope)
	}
	switch e.Kind {
	case KindSaved:
	case KindStatus:
		if e.NewStatus == "" {
			return fmt.Errorf("%w: new_status is required", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}
	return nil
}

// snapshot returns the carried record, or nil when the envelope has no
// record data.
func (e *Envelope) snapshot() *record.Record {
	if e.Type == "" && e.Status == "" && len(e.Meta) == 0 {
		return nil
	}
	meta := e.Meta
	if meta == nil {
		meta = make(record.Meta)
	}
	return &record.Record{ID: e.RecordID, Type: e.Type, Status: e.Status, Meta: meta}
}

// Saved converts a saved envelope.
func (e *Envelope) Saved() Saved {
	return Saved{
		RecordID: e.RecordID,
		Record:   e.snapshot(),
		IsUpdate: e.IsUpdate,
		Autosave: e.Autosave,
		Revision: e.Revision,
	}
}

// Transition converts a status envelope. The record status follows the new
// status.
func (e *Envelope) Transition() StatusTransition {
	rec := e.snapshot()
	if rec == nil {
		rec = &record.Record{ID: e.RecordID, Meta: make(record.Meta)}
	}
	rec.Status = e.NewStatus
	return StatusTransition{NewStatus: e.NewStatus, OldStatus: e.OldStatus, Record: rec}
}
