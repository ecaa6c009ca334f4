package sqlite

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

// --- Record models ---

type recordModel struct {
	grove.BaseModel `grove:"table:flowbridge_records"`

	ID        int64     `grove:"id,pk"`
	Type      string    `grove:"type"`
	Status    string    `grove:"status"`
	UpdatedAt time.Time `grove:"updated_at"`
}

type metaModel struct {
	grove.BaseModel `grove:"table:flowbridge_record_meta"`

	RecordID  int64     `grove:"record_id,pk"`
	Key       string    `grove:"meta_key,pk"`
	Value     string    `grove:"meta_value"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toMetaModel(recordID int64, key string, v any, at time.Time) (*metaModel, error) {
	raw, err := encodeValue(v)
	if err != nil {
		return nil, fmt.Errorf("encode meta %q: %w", key, err)
	}
	return &metaModel{RecordID: recordID, Key: key, Value: raw, UpdatedAt: at}, nil
}

func fromRecordModels(m *recordModel, metas []metaModel) *record.Record {
	r := &record.Record{
		ID:        m.ID,
		Type:      m.Type,
		Status:    m.Status,
		Meta:      make(record.Meta, len(metas)),
		UpdatedAt: m.UpdatedAt,
	}
	for i := range metas {
		r.Meta[metas[i].Key] = decodeValue(metas[i].Value)
	}
	return r
}

// --- Option model ---

type optionModel struct {
	grove.BaseModel `grove:"table:flowbridge_options"`

	Name      string    `grove:"name,pk"`
	Value     string    `grove:"value"`
	UpdatedAt time.Time `grove:"updated_at"`
}

// --- Re-check model ---

type recheckModel struct {
	grove.BaseModel `grove:"table:flowbridge_rechecks"`

	ID           string    `grove:"id,pk"`
	RecordID     int64     `grove:"record_id,unique"`
	FirstPublish bool      `grove:"first_publish"`
	Attempt      int       `grove:"attempt"`
	RunAt        time.Time `grove:"run_at"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
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
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
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

	ID             string     `grove:"id,pk"`
	RecordID       int64      `grove:"record_id"`
	Reason         string     `grove:"reason"`
	URL            string     `grove:"url"`
	Payload        string     `grove:"payload"`
	Error          string     `grove:"error"`
	AttemptCount   int        `grove:"attempt_count"`
	LastStatusCode int        `grove:"last_status_code"`
	FailedAt       time.Time  `grove:"failed_at"`
	ReplayedAt     *time.Time `grove:"replayed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
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
		FailedAt:       e.FailedAt,
		ReplayedAt:     e.ReplayedAt,
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
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
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

// encodeValue stores any metadata or option value as JSON text. Numbers
// read back as float64; consumers convert loosely.
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
