// Package gate decides whether a booking event should be delivered.
//
// Evaluate is a pure function of the policy and the observed record state.
// Side effects implied by a decision (scheduling a re-check, bumping the
// re-check counter, dead-lettering) are performed by the caller.
package gate

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultAllowedStatuses are the booking statuses delivered out of the box:
// 2 (Processing) and 4 (Completed).
var DefaultAllowedStatuses = []int{2, 4}

// DefaultMaxRechecks bounds the deferred re-checks for incomplete records.
const DefaultMaxRechecks = 2

// State is the per-record delivery state.
type State string

const (
	// StateUnseen means no event has been evaluated for the record.
	StateUnseen State = "unseen"

	// StatePendingIncomplete means required fields were missing and a
	// re-check may be pending.
	StatePendingIncomplete State = "pending-incomplete"

	// StateSent means the payload was delivered. It is terminal unless
	// force_resend is on.
	StateSent State = "sent"

	// StateSkippedStatus means the booking status was not in the allowed
	// list. A later status change can still send it.
	StateSkippedStatus State = "skipped-status"
)

// Outcome is the result of evaluating one event.
type Outcome string

const (
	// Proceed means build and send.
	Proceed Outcome = "proceed"
	// Duplicate means the record was already sent and this is a plain update.
	Duplicate Outcome = "duplicate"
	// NotPublished means the record is a draft, trash or similar.
	NotPublished Outcome = "not-published"
	// SkippedStatus means the booking status is not allowed.
	SkippedStatus Outcome = "skipped-status"
	// PendingIncomplete means required fields are missing and a re-check is due.
	PendingIncomplete Outcome = "pending-incomplete"
	// Exhausted means required fields are still missing after every re-check.
	Exhausted Outcome = "exhausted"
)

// Policy is the configurable part of the gate.
type Policy struct {
	AllowedStatuses []int
	AllowAll        bool
	ForceResend     bool
	MaxRechecks     int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		AllowedStatuses: slices.Clone(DefaultAllowedStatuses),
		MaxRechecks:     DefaultMaxRechecks,
	}
}

// Allows reports whether the status passes the status filter.
func (p Policy) Allows(statusID int) bool {
	return p.AllowAll || slices.Contains(p.AllowedStatuses, statusID)
}

// Input is what the caller observed about the record.
type Input struct {
	Published    bool
	StatusID     int
	Sent         bool
	FirstPublish bool
	Complete     bool
	Rechecks     int
}

// Decision is the gate verdict for one event.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	State   State   `json:"state"`
	Reason  string  `json:"reason"`
}

// Send reports whether the decision calls for delivery.
func (d Decision) Send() bool { return d.Outcome == Proceed }

// Evaluate applies the policy to an observed record state.
//
// Order matters: publish state, then the sent marker, then status, then
// completeness. A first-publish event ignores the sent marker so a stale
// marker from a partial earlier failure cannot block delivery.
func Evaluate(p Policy, in Input) Decision {
	if !in.Published {
		return Decision{Outcome: NotPublished, State: StateUnseen, Reason: "Record is not published"}
	}

	if in.Sent && !in.FirstPublish && !p.ForceResend {
		return Decision{Outcome: Duplicate, State: StateSent, Reason: "Already sent"}
	}

	if !p.Allows(in.StatusID) {
		return Decision{
			Outcome: SkippedStatus,
			State:   StateSkippedStatus,
			Reason:  fmt.Sprintf("Status %d (%s) not in allowed list [%s]", in.StatusID, StatusName(in.StatusID), joinInts(p.AllowedStatuses)),
		}
	}

	if !in.Complete {
		if in.Rechecks >= p.MaxRechecks {
			return Decision{
				Outcome: Exhausted,
				State:   StatePendingIncomplete,
				Reason:  fmt.Sprintf("Missing required fields after %d re-checks", in.Rechecks),
			}
		}
		return Decision{Outcome: PendingIncomplete, State: StatePendingIncomplete, Reason: "Missing required fields"}
	}

	return Decision{Outcome: Proceed, State: StateSent, Reason: "Eligible"}
}

// CheckComplete is the reduced gate used by manual reprocessing: only the
// minimum-field check applies.
func CheckComplete(complete bool) Decision {
	if !complete {
		return Decision{Outcome: PendingIncomplete, State: StatePendingIncomplete, Reason: "Missing required fields"}
	}
	return Decision{Outcome: Proceed, State: StateSent, Reason: "Eligible"}
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
