package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
)

// --- Record model ---

// recordModel keeps metadata JSON-encoded per key so values round-trip
// the same way as on the SQL backends.
type recordModel struct {
	grove.BaseModel `grove:"table:flowbridge_records"`

	ID        int64             `grove:"id,pk"      bson:"_id"`
	Type      string            `grove:"type"       bson:"type"`
	Status    string            `grove:"status"     bson:"status"`
	Meta      map[string]string `grove:"meta"       bson:"meta,omitempty"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
}

func fromRecordModel(m *recordModel) *record.Record {
	r := &record.Record{
		ID:        m.ID,
		Type:      m.Type,
		Status:    m.Status,
		Meta:      make(record.Meta, len(m.Meta)),
		UpdatedAt: m.UpdatedAt,
	}
	for k, v := range m.Meta {
		r.Meta[k] = decodeValue(v)
	}
	return r
}

// --- Option model ---

type optionModel struct {
	grove.BaseModel `grove:"table:flowbridge_options"`

	Name      string    `grove:"name,pk"    bson:"_id"`
	Value     string    `grove:"value"      bson:"value"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

// --- Re-check model ---

type recheckModel struct {
	grove.BaseModel `grove:"table:flowbridge_rechecks"`

	ID           string    `grove:"id,pk"            bson:"_id"`
	RecordID     int64     `grove:"record_id,unique" bson:"record_id"`
	FirstPublish bool      `grove:"first_publish"    bson:"first_publish"`
	Attempt      int       `grove:"attempt"          bson:"attempt"`
	RunAt        time.Time `grove:"run_at"           bson:"run_at"`
	CreatedAt    time.Time `grove:"created_at"       bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"       bson:"updated_at"`
}

func toRecheckModel(t *schedule.Task) *recheckModel {
	return &recheckModel{
		ID:           t.ID.String(),
		RecordID:     t.RecordID,
		FirstPublish: t.FirstPublish,
		Attempt:      t.Attempt,
		RunAt:        t.RunAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func fromRecheckModel(m *recheckModel) (*schedule.Task, error) {
	taskID, err := id.ParseRecheckID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse re-check ID %q: %w", m.ID, err)
	}
	return &schedule.Task{
		Entity:       entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           taskID,
		RecordID:     m.RecordID,
		FirstPublish: m.FirstPublish,
		Attempt:      m.Attempt,
		RunAt:        m.RunAt,
	}, nil
}

// --- DLQ model ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:flowbridge_dlq"`

	ID             string     `grove:"id,pk"            bson:"_id"`
	RecordID       int64      `grove:"record_id"        bson:"record_id"`
	Reason         string     `grove:"reason"           bson:"reason"`
	URL            string     `grove:"url"              bson:"url"`
	Payload        string     `grove:"payload"          bson:"payload,omitempty"`
	Error          string     `grove:"error"            bson:"error"`
	AttemptCount   int        `grove:"attempt_count"    bson:"attempt_count"`
	LastStatusCode int        `grove:"last_status_code" bson:"last_status_code"`
	ReplayedAt     *time.Time `grove:"replayed_at"      bson:"replayed_at,omitempty"`
	FailedAt       time.Time  `grove:"failed_at"        bson:"failed_at"`
	CreatedAt      time.Time  `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"       bson:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             e.ID.String(),
		RecordID:       e.RecordID,
		Reason:         string(e.Reason),
		URL:            e.URL,
		Payload:        string(e.Payload),
		Error:          e.Error,
		AttemptCount:   e.AttemptCount,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}

	var payload json.RawMessage
	if m.Payload != "" {
		payload = json.RawMessage(m.Payload)
	}

	return &dlq.Entry{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             dlqID,
		RecordID:       m.RecordID,
		Reason:         dlq.Reason(m.Reason),
		URL:            m.URL,
		Payload:        payload,
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		FailedAt:       m.FailedAt,
		ReplayedAt:     m.ReplayedAt,
	}, nil
}

// --- Value encoding ---

func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeValue(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
