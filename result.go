package flowbridge

import (
	"github.com/xraph/flowbridge/delivery"
	"github.com/xraph/flowbridge/gate"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/payload"
)

// Result is the outcome of a public Bridge operation. Failures are carried
// here instead of being returned to the event source.
type Result struct {
	RecordID int64  `json:"record_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Kind     Kind   `json:"kind,omitempty"`

	Outcome gate.Outcome `json:"outcome,omitempty"`
	State   gate.State   `json:"state,omitempty"`
	Reason  string       `json:"reason,omitempty"`

	// Rescheduled is set when a deferred re-check was queued.
	Rescheduled bool `json:"rescheduled,omitempty"`

	Payload  *payload.Payload   `json:"payload,omitempty"`
	Response *delivery.Response `json:"response,omitempty"`

	// DLQID is set when the record was dead-lettered.
	DLQID *id.ID `json:"dlq_id,omitempty"`
}

// Sent reports whether the payload was delivered.
func (r *Result) Sent() bool { return r.Success && r.Response != nil }

func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Error = err.Error()
	r.Kind = KindOf(err)
	return r
}

func (r *Result) decide(d gate.Decision) {
	r.Outcome = d.Outcome
	r.State = d.State
	r.Reason = d.Reason
}
