package dlq

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
)

// ErrNotFound is returned when a DLQ entry does not exist.
var ErrNotFound = errors.New("dlq: entry not found")

// Reason classifies why a record was dead-lettered.
type Reason string

const (
	// ReasonExhausted means required fields never appeared within the
	// re-check budget.
	ReasonExhausted Reason = "exhausted"

	// ReasonDeliveryFailed means every HTTP attempt failed.
	ReasonDeliveryFailed Reason = "delivery_failed"
)

// Entry is a record the bridge gave up on.
type Entry struct {
	entity.Entity

	ID       id.ID  `json:"id"`
	RecordID int64  `json:"record_id"`
	Reason   Reason `json:"reason"`

	// URL is the webhook URL at the time of failure, empty for exhausted
	// re-checks.
	URL string `json:"url,omitempty"`

	// Payload is the payload that failed to deliver, if one was built.
	Payload json.RawMessage `json:"payload,omitempty"`

	Error          string `json:"error"`
	AttemptCount   int    `json:"attempt_count"`
	LastStatusCode int    `json:"last_status_code,omitempty"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// ListOpts filters and paginates DLQ listings. Entries are returned newest
// first.
type ListOpts struct {
	Offset   int
	Limit    int
	RecordID int64
	Reason   Reason
	From     *time.Time
	To       *time.Time
}

// Matches reports whether e passes the filters of opts. Pagination is not
// applied.
func (opts ListOpts) Matches(e *Entry) bool {
	if opts.RecordID != 0 && e.RecordID != opts.RecordID {
		return false
	}
	if opts.Reason != "" && e.Reason != opts.Reason {
		return false
	}
	if opts.From != nil && e.FailedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && e.FailedAt.After(*opts.To) {
		return false
	}
	return true
}
