package flowbridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/flowbridge"
	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/event"
	"github.com/xraph/flowbridge/gate"
	"github.com/xraph/flowbridge/payload"
	"github.com/xraph/flowbridge/ratelimit"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
	"github.com/xraph/flowbridge/settings"
	"github.com/xraph/flowbridge/state"
	"github.com/xraph/flowbridge/store/memory"
)

func ctx() context.Context { return context.Background() }

func noPause(context.Context, time.Duration) error { return nil }

// hook is a test webhook endpoint that records every body it receives.
type hook struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
	bodies chan []byte
}

func newHook(t *testing.T) *hook {
	t.Helper()
	h := &hook{bodies: make(chan []byte, 16)}
	h.status.Store(http.StatusOK)
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		select {
		case h.bodies <- body:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(h.status.Load()))
		_, _ = w.Write([]byte(`{"status":"received"}`))
	}))
	t.Cleanup(h.Close)
	return h
}

func setup(t *testing.T, opts ...flowbridge.Option) (*flowbridge.Bridge, *memory.Store, *hook) {
	t.Helper()
	s := memory.New()
	h := newHook(t)

	base := []flowbridge.Option{
		flowbridge.WithStore(s),
		flowbridge.WithPause(noPause),
		flowbridge.WithRecheckDelay(0),
	}
	b, err := flowbridge.New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Settings().Set(ctx(), settings.WebhookURL, h.URL); err != nil {
		t.Fatal(err)
	}
	return b, s, h
}

func booking(id int64, meta record.Meta) *record.Record {
	return &record.Record{ID: id, Type: flowbridge.DefaultRecordType, Status: record.StatusPublish, Meta: meta}
}

func booking42() *record.Record {
	return booking(42, record.Meta{
		"client_contact_detail_first_name":    "Jane",
		"client_contact_detail_last_name":     "Doe",
		"client_contact_detail_email_address": "jane@x.com",
		"price_initial_value":                 "150.00",
		"vehicle_id":                          "7",
		"crbs_booking_status_id":              "4",
	})
}

func incomplete(id int64) *record.Record {
	return booking(id, record.Meta{
		"client_contact_detail_first_name": "Jane",
		"crbs_booking_status_id":           "2",
	})
}

func saved(rec *record.Record, isUpdate bool) event.Saved {
	return event.Saved{RecordID: rec.ID, Record: rec, IsUpdate: isUpdate}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := flowbridge.New(); !errors.Is(err, flowbridge.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestHandleSavedSendsBooking(t *testing.T) {
	b, s, h := setup(t)

	res := b.HandleSaved(ctx(), saved(booking42(), false))
	if !res.Success {
		t.Fatalf("expected success, got %s (%s)", res.Error, res.Kind)
	}
	if res.Outcome != gate.Proceed {
		t.Fatalf("expected proceed, got %s", res.Outcome)
	}
	if res.Response == nil || res.Response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 response, got %+v", res.Response)
	}

	var sent payload.Payload
	if err := json.Unmarshal(<-h.bodies, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Customer.Name != "Jane Doe" {
		t.Fatalf("expected customer Jane Doe, got %q", sent.Customer.Name)
	}
	if sent.Invoice.LineItems[0].Rate != 150.0 {
		t.Fatalf("expected rate 150, got %v", sent.Invoice.LineItems[0].Rate)
	}
	if sent.StatusID != 4 || sent.EventID != "crbs_42" {
		t.Fatalf("unexpected payload: %+v", sent)
	}

	st, err := state.NewTracker(s).Load(ctx(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Sent || st.SentAt == nil {
		t.Fatal("expected sent marker and timestamp")
	}
	if st.Snapshot == nil || !strings.Contains(st.SnapshotJSON, "    \"event\"") {
		t.Fatalf("expected structured and pretty snapshot, got %q", st.SnapshotJSON)
	}
}

func TestDuplicateSuppressed(t *testing.T) {
	b, _, h := setup(t)

	if res := b.HandleSaved(ctx(), saved(booking42(), false)); !res.Success {
		t.Fatalf("first send failed: %s", res.Error)
	}

	res := b.HandleSaved(ctx(), saved(booking42(), true))
	if res.Outcome != gate.Duplicate {
		t.Fatalf("expected duplicate, got %s", res.Outcome)
	}
	if got := h.hits.Load(); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}

	// A first-publish replay ignores the sent marker.
	res = b.HandleSaved(ctx(), saved(booking42(), false))
	if !res.Sent() {
		t.Fatalf("expected resend on first publish, got %s", res.Outcome)
	}
	if got := h.hits.Load(); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestForceResend(t *testing.T) {
	b, _, h := setup(t)
	if err := b.Settings().Set(ctx(), settings.ForceResend, true); err != nil {
		t.Fatal(err)
	}

	b.HandleSaved(ctx(), saved(booking42(), false))
	b.HandleSaved(ctx(), saved(booking42(), true))

	if got := h.hits.Load(); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestSkippedStatus(t *testing.T) {
	b, _, h := setup(t)

	rec := booking42()
	rec.Meta["crbs_booking_status_id"] = "3"

	res := b.HandleSaved(ctx(), saved(rec, false))
	if res.Outcome != gate.SkippedStatus {
		t.Fatalf("expected skipped-status, got %s", res.Outcome)
	}
	if !res.Success {
		t.Fatalf("a skipped record is not a failure: %s", res.Error)
	}
	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}
}

func TestAllowAllStatuses(t *testing.T) {
	b, _, h := setup(t)
	if err := b.Settings().Set(ctx(), settings.AllowAllStatuses, true); err != nil {
		t.Fatal(err)
	}

	rec := booking42()
	rec.Meta["crbs_booking_status_id"] = "3"

	if res := b.HandleSaved(ctx(), saved(rec, false)); !res.Sent() {
		t.Fatalf("expected send, got %s", res.Outcome)
	}
	if h.hits.Load() != 1 {
		t.Fatal("expected one request")
	}
}

func TestNotPublished(t *testing.T) {
	b, _, h := setup(t)

	rec := booking42()
	rec.Status = "draft"

	res := b.HandleSaved(ctx(), saved(rec, false))
	if res.Outcome != gate.NotPublished {
		t.Fatalf("expected not-published, got %s", res.Outcome)
	}
	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}
}

func TestIgnoredEvents(t *testing.T) {
	b, _, h := setup(t)

	res := b.HandleSaved(ctx(), event.Saved{RecordID: 42, Record: booking42(), Autosave: true})
	if !res.Success || res.Outcome != "" {
		t.Fatalf("expected ignored autosave, got %+v", res)
	}

	other := booking42()
	other.Type = "post"
	res = b.HandleSaved(ctx(), saved(other, false))
	if !res.Success || res.Outcome != "" {
		t.Fatalf("expected ignored record type, got %+v", res)
	}

	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}
}

func TestIncompleteSchedulesOneRecheck(t *testing.T) {
	b, s, h := setup(t)

	res := b.HandleSaved(ctx(), saved(incomplete(7), false))
	if res.Outcome != gate.PendingIncomplete {
		t.Fatalf("expected pending-incomplete, got %s", res.Outcome)
	}
	if res.Kind != flowbridge.KindDataIncomplete || !res.Rescheduled {
		t.Fatalf("expected a scheduled re-check, got kind %s rescheduled %v", res.Kind, res.Rescheduled)
	}

	res = b.HandleSaved(ctx(), saved(incomplete(7), true))
	if res.Rescheduled {
		t.Fatal("second save must not schedule another re-check")
	}

	n, err := s.CountRechecks(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending re-check, got %d", n)
	}
	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}
}

func TestRecheckSendsOnceComplete(t *testing.T) {
	b, s, h := setup(t)

	b.HandleSaved(ctx(), saved(incomplete(7), false))

	if err := s.SetMeta(ctx(), 7, "vehicle_id", "3"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMeta(ctx(), 7, "price_initial_value", "80"); err != nil {
		t.Fatal(err)
	}

	ran, err := b.Scheduler().RunDue(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if ran != 1 {
		t.Fatalf("expected 1 re-check, got %d", ran)
	}
	if h.hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", h.hits.Load())
	}

	st, err := state.NewTracker(s).Load(ctx(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Sent || st.Rechecks != 0 {
		t.Fatalf("expected sent with reset counter, got sent=%v rechecks=%d", st.Sent, st.Rechecks)
	}
}

func TestRechecksExhaustedDeadLetter(t *testing.T) {
	b, s, h := setup(t)

	b.HandleSaved(ctx(), saved(incomplete(9), false))

	for i := 0; i < 2; i++ {
		if _, err := b.Scheduler().RunDue(ctx()); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := s.CountRechecks(ctx()); n != 0 {
		t.Fatalf("expected no pending re-checks, got %d", n)
	}
	entries, err := b.DLQ().List(ctx(), dlq.ListOpts{RecordID: 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Reason != dlq.ReasonExhausted {
		t.Fatalf("expected one exhausted entry, got %+v", entries)
	}
	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}

	diag, err := b.Diagnose(ctx(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if diag.Rechecks != 0 || diag.LastError == "" {
		t.Fatalf("expected reset counter and recorded error, got %+v", diag)
	}
}

func TestMissingWebhookURL(t *testing.T) {
	b, s, h := setup(t)
	if err := b.Settings().Set(ctx(), settings.WebhookURL, ""); err != nil {
		t.Fatal(err)
	}

	res := b.HandleSaved(ctx(), saved(booking42(), false))
	if res.Success || res.Kind != flowbridge.KindConfig {
		t.Fatalf("expected config failure, got success=%v kind=%s", res.Success, res.Kind)
	}
	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}

	// The payload is still recorded for the viewer.
	st, err := state.NewTracker(s).Load(ctx(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if st.Snapshot == nil || st.Sent {
		t.Fatalf("expected snapshot without sent marker, got %+v", st)
	}
}

func TestDeliveryFailureDeadLetters(t *testing.T) {
	b, _, h := setup(t)
	h.status.Store(http.StatusInternalServerError)
	if err := b.Settings().Set(ctx(), settings.RetryAttempts, 2); err != nil {
		t.Fatal(err)
	}

	res := b.HandleSaved(ctx(), saved(booking42(), false))
	if res.Success || res.Kind != flowbridge.KindDeliveryFailed {
		t.Fatalf("expected delivery failure, got success=%v kind=%s", res.Success, res.Kind)
	}
	if !strings.HasPrefix(res.Error, "Failed to send webhook after 2 attempts") {
		t.Fatalf("unexpected error %q", res.Error)
	}
	if res.DLQID == nil {
		t.Fatal("expected dlq entry")
	}
	if got := h.hits.Load(); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}

	// Replay once the endpoint recovers.
	h.status.Store(http.StatusOK)
	replay := b.ReplayDLQ(ctx(), *res.DLQID)
	if !replay.Success {
		t.Fatalf("expected replay success, got %s", replay.Error)
	}

	entry, err := b.DLQ().Get(ctx(), *res.DLQID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ReplayedAt == nil {
		t.Fatal("expected entry marked replayed")
	}
}

func TestIntegrationUnavailable(t *testing.T) {
	b, _, h := setup(t, flowbridge.WithRecordType(""))

	res := b.HandleSaved(ctx(), saved(booking42(), false))
	if res.Kind != flowbridge.KindIntegrationUnavailable {
		t.Fatalf("expected integration unavailable, got %s", res.Kind)
	}
	if res = b.Reprocess(ctx(), 42); res.Kind != flowbridge.KindIntegrationUnavailable {
		t.Fatalf("expected integration unavailable on reprocess, got %s", res.Kind)
	}
	if h.hits.Load() != 0 {
		t.Fatal("expected no request")
	}
}

func TestStatusTransition(t *testing.T) {
	b, _, h := setup(t)

	rec := booking42()
	rec.Status = "draft"
	res := b.HandleStatusTransition(ctx(), event.StatusTransition{NewStatus: "publish", OldStatus: "draft", Record: rec})
	if !res.Sent() {
		t.Fatalf("expected send, got %s: %s", res.Outcome, res.Error)
	}
	if h.hits.Load() != 1 {
		t.Fatal("expected one request")
	}
	if rec.Status != "draft" {
		t.Fatal("caller's record must not be modified")
	}
}

func TestReprocess(t *testing.T) {
	b, s, h := setup(t)

	res := b.Reprocess(ctx(), 404)
	if res.Success || res.Error != "Could not load booking" {
		t.Fatalf("expected load failure, got %+v", res)
	}

	b.HandleSaved(ctx(), saved(booking42(), false))

	// Reprocess ignores the sent marker and status rules.
	if err := s.SetMeta(ctx(), 42, "crbs_booking_status_id", "3"); err != nil {
		t.Fatal(err)
	}
	res = b.Reprocess(ctx(), 42)
	if !res.Sent() {
		t.Fatalf("expected reprocess to send, got %s", res.Error)
	}
	if h.hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", h.hits.Load())
	}

	b.HandleSaved(ctx(), saved(incomplete(8), false))
	if res = b.Reprocess(ctx(), 8); res.Kind != flowbridge.KindDataIncomplete {
		t.Fatalf("expected data incomplete, got %s", res.Kind)
	}
}

func TestDiagnose(t *testing.T) {
	b, s, _ := setup(t)

	if err := s.PutRecord(ctx(), booking42()); err != nil {
		t.Fatal(err)
	}
	diag, err := b.Diagnose(ctx(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if diag.Reason != "Not processed yet (may need to save booking again)" {
		t.Fatalf("unexpected reason %q", diag.Reason)
	}

	cancelled := booking(43, record.Meta{"crbs_booking_status_id": "3", "vehicle_id": "1"})
	if err := s.PutRecord(ctx(), cancelled); err != nil {
		t.Fatal(err)
	}
	diag, err = b.Diagnose(ctx(), 43)
	if err != nil {
		t.Fatal(err)
	}
	if diag.Reason != "Status 3 (Cancelled) not in allowed list [2, 4]" {
		t.Fatalf("unexpected reason %q", diag.Reason)
	}

	b.HandleSaved(ctx(), saved(booking42(), false))
	diag, err = b.Diagnose(ctx(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(diag.Reason, "Already sent at ") {
		t.Fatalf("unexpected reason %q", diag.Reason)
	}

	if _, err := b.Diagnose(ctx(), 999); !errors.Is(err, flowbridge.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestFilterApplied(t *testing.T) {
	filter := payload.FilterFunc(func(p *payload.Payload, recordID int64, _ *record.Record) *payload.Payload {
		p.Invoice.Notes = "filtered"
		return p
	})
	b, _, h := setup(t, flowbridge.WithFilter(filter))

	b.HandleSaved(ctx(), saved(booking42(), false))

	var sent payload.Payload
	if err := json.Unmarshal(<-h.bodies, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Invoice.Notes != "filtered" {
		t.Fatalf("expected filtered notes, got %q", sent.Invoice.Notes)
	}
}

func TestMalformedPriceStillSends(t *testing.T) {
	tests := []struct {
		name  string
		price any
		extra record.Meta
		want  float64
	}{
		{"nan", "NaN", nil, 0},
		{"infinity", "Inf", nil, 0},
		{"overflow", "1e999", nil, 0},
		{"not numeric", "n/a", nil, 0},
		{"negative", "-20", nil, -20},
		{"wrapped in list", []any{"99.5"}, nil, 99.5},
		{"nan falls back to total", "NaN", record.Meta{"total": "55"}, 55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, s, h := setup(t)

			meta := record.Meta{
				"price_initial_value":    tt.price,
				"vehicle_id":             "7",
				"crbs_booking_status_id": "4",
			}
			for k, v := range tt.extra {
				meta[k] = v
			}

			res := b.HandleSaved(ctx(), saved(booking(42, meta), false))
			if !res.Success {
				t.Fatalf("expected success, got %s (%s)", res.Error, res.Kind)
			}
			if got := h.hits.Load(); got != 1 {
				t.Fatalf("expected 1 request, got %d", got)
			}

			var sent payload.Payload
			if err := json.Unmarshal(<-h.bodies, &sent); err != nil {
				t.Fatal(err)
			}
			if sent.Invoice.LineItems[0].Rate != tt.want {
				t.Fatalf("expected rate %v, got %v", tt.want, sent.Invoice.LineItems[0].Rate)
			}

			st, err := state.NewTracker(s).Load(ctx(), 42)
			if err != nil {
				t.Fatal(err)
			}
			if st.SnapshotJSON == "" {
				t.Fatal("expected a stored snapshot")
			}
		})
	}
}

func TestEventIDPrefix(t *testing.T) {
	b, _, h := setup(t, flowbridge.WithEventIDPrefix("acme"))

	b.HandleSaved(ctx(), saved(booking42(), false))

	var sent payload.Payload
	if err := json.Unmarshal(<-h.bodies, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.EventID != "acme_42" {
		t.Fatalf("expected event_id acme_42, got %q", sent.EventID)
	}

	if _, err := flowbridge.New(flowbridge.WithStore(memory.New()), flowbridge.WithEventIDPrefix("")); err == nil {
		t.Fatal("expected error for empty prefix")
	}
}

func TestSharedLimiter(t *testing.T) {
	l := ratelimit.New()
	b, _, h := setup(t, flowbridge.WithLimiter(l))
	if err := b.Settings().Set(ctx(), settings.RateLimit, 1); err != nil {
		t.Fatal(err)
	}

	if res := b.HandleSaved(ctx(), saved(booking42(), false)); !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}

	host := strings.TrimPrefix(h.URL, "http://")
	if l.Allow(host, 1) {
		t.Fatal("expected the delivery to have taken the host's token")
	}
}

// pendingErrStore fails every pending re-check lookup.
type pendingErrStore struct {
	*memory.Store
}

var errPendingLookup = errors.New("pending lookup failed")

func (pendingErrStore) PendingRecheck(context.Context, int64) (*schedule.Task, error) {
	return nil, errPendingLookup
}

func TestExhaustedPendingLookupError(t *testing.T) {
	s := pendingErrStore{Store: memory.New()}
	b, err := flowbridge.New(
		flowbridge.WithStore(s),
		flowbridge.WithPause(noPause),
		flowbridge.WithMaxRechecks(0),
	)
	if err != nil {
		t.Fatal(err)
	}

	res := b.HandleSaved(ctx(), saved(incomplete(9), false))
	if res.Success || res.Kind != flowbridge.KindStore {
		t.Fatalf("expected store failure, got success=%v kind=%s", res.Success, res.Kind)
	}
	if !strings.Contains(res.Error, errPendingLookup.Error()) {
		t.Fatalf("expected lookup error, got %q", res.Error)
	}

	n, err := b.DLQ().Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no dlq entry, got %d", n)
	}
}

func TestSentRecordsAndStats(t *testing.T) {
	b, _, _ := setup(t)

	b.HandleSaved(ctx(), saved(booking42(), false))
	b.HandleSaved(ctx(), saved(incomplete(7), false))

	sent, err := b.SentRecords(ctx(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].RecordID != 42 {
		t.Fatalf("expected record 42 only, got %+v", sent)
	}

	stats, err := b.Stats(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if stats.PendingRechecks != 1 || stats.DLQSize != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want flowbridge.Kind
	}{
		{nil, flowbridge.KindNone},
		{flowbridge.ErrWebhookURLMissing, flowbridge.KindConfig},
		{settings.ErrInvalidValue, flowbridge.KindConfig},
		{flowbridge.ErrIntegrationUnavailable, flowbridge.KindIntegrationUnavailable},
		{flowbridge.ErrDataIncomplete, flowbridge.KindDataIncomplete},
		{payload.ErrInvalid, flowbridge.KindInvalidPayload},
		{record.ErrNotFound, flowbridge.KindNotFound},
		{errors.New("disk full"), flowbridge.KindStore},
	}
	for _, tt := range tests {
		if got := flowbridge.KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
