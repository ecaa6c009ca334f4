package gate_test

import (
	"strings"
	"testing"

	"github.com/xraph/flowbridge/gate"
)

func ready(statusID int) gate.Input {
	return gate.Input{Published: true, StatusID: statusID, Complete: true}
}

func TestEvaluate(t *testing.T) {
	def := gate.DefaultPolicy()

	tests := []struct {
		name   string
		policy gate.Policy
		input  gate.Input
		want   gate.Outcome
	}{
		{"cancelled is skipped", def, ready(3), gate.SkippedStatus},
		{"completed proceeds", def, ready(4), gate.Proceed},
		{"processing proceeds", def, ready(2), gate.Proceed},
		{"unknown status skipped", def, ready(0), gate.SkippedStatus},
		{"allow all", gate.Policy{AllowAll: true, MaxRechecks: 2}, ready(3), gate.Proceed},
		{"draft", def, gate.Input{StatusID: 4, Complete: true}, gate.NotPublished},
		{
			"sent update is duplicate", def,
			gate.Input{Published: true, StatusID: 4, Complete: true, Sent: true},
			gate.Duplicate,
		},
		{
			"sent first publish re-evaluates", def,
			gate.Input{Published: true, StatusID: 4, Complete: true, Sent: true, FirstPublish: true},
			gate.Proceed,
		},
		{
			"force resend", gate.Policy{AllowedStatuses: []int{4}, ForceResend: true, MaxRechecks: 2},
			gate.Input{Published: true, StatusID: 4, Complete: true, Sent: true},
			gate.Proceed,
		},
		{"incomplete", def, gate.Input{Published: true, StatusID: 4}, gate.PendingIncomplete},
		{"incomplete second re-check", def, gate.Input{Published: true, StatusID: 4, Rechecks: 1}, gate.PendingIncomplete},
		{"incomplete exhausted", def, gate.Input{Published: true, StatusID: 4, Rechecks: 2}, gate.Exhausted},
		{"status checked before completeness", def, gate.Input{Published: true, StatusID: 3}, gate.SkippedStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Evaluate(tt.policy, tt.input)
			if d.Outcome != tt.want {
				t.Fatalf("expected %s, got %s (%s)", tt.want, d.Outcome, d.Reason)
			}
			if d.Send() != (tt.want == gate.Proceed) {
				t.Fatalf("Send() disagrees with outcome %s", d.Outcome)
			}
		})
	}
}

func TestSkippedStatusReason(t *testing.T) {
	d := gate.Evaluate(gate.DefaultPolicy(), ready(3))

	if d.State != gate.StateSkippedStatus {
		t.Fatalf("expected state %s, got %s", gate.StateSkippedStatus, d.State)
	}
	if !strings.Contains(d.Reason, "Status 3 (Cancelled) not in allowed list [2, 4]") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestCheckComplete(t *testing.T) {
	if d := gate.CheckComplete(false); d.Outcome != gate.PendingIncomplete {
		t.Fatalf("expected pending-incomplete, got %s", d.Outcome)
	}
	if d := gate.CheckComplete(true); !d.Send() {
		t.Fatalf("expected proceed, got %s", d.Outcome)
	}
}

func TestStatusName(t *testing.T) {
	if got := gate.StatusName(4); got != "Completed" {
		t.Fatalf("expected Completed, got %q", got)
	}
	if got := gate.StatusName(99); got != "Unknown" {
		t.Fatalf("expected Unknown, got %q", got)
	}
}
