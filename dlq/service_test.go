package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/flowbridge/delivery"
	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() (*dlq.Service, *memory.Store) {
	store := memory.New()
	svc := dlq.NewService(store, nil)
	return svc, store
}

func failedSend() error {
	return &delivery.FailedError{
		Attempts: 3,
		Last: &delivery.AttemptError{
			Attempt:    3,
			StatusCode: 500,
			Kind:       delivery.ErrUpstream,
			Message:    "HTTP 500",
		},
	}
}

func TestPushFailed(t *testing.T) {
	svc, store := newService()

	e, err := svc.PushFailed(ctx(), 42, "https://flow.example.com/hook", map[string]any{"event_id": "crbs_42"}, failedSend())
	if err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListDLQ(ctx(), dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.ID.String() != e.ID.String() {
		t.Fatalf("expected ID %s, got %s", e.ID, got.ID)
	}
	if got.Reason != dlq.ReasonDeliveryFailed {
		t.Fatalf("expected reason %s, got %s", dlq.ReasonDeliveryFailed, got.Reason)
	}
	if got.AttemptCount != 3 || got.LastStatusCode != 500 {
		t.Fatalf("expected 3 attempts and status 500, got %d and %d", got.AttemptCount, got.LastStatusCode)
	}

	var body map[string]any
	if err := json.Unmarshal(got.Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["event_id"] != "crbs_42" {
		t.Fatalf("expected stored payload, got %v", body)
	}
}

func TestPushExhausted(t *testing.T) {
	svc, _ := newService()

	e, err := svc.PushExhausted(ctx(), 7, 2, "Missing required fields after 2 re-checks")
	if err != nil {
		t.Fatal(err)
	}
	if e.Reason != dlq.ReasonExhausted || e.AttemptCount != 2 || e.URL != "" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestReplay(t *testing.T) {
	svc, _ := newService()

	e, err := svc.PushExhausted(ctx(), 7, 2, "missing")
	if err != nil {
		t.Fatal(err)
	}

	var replayed int64
	got, err := svc.Replay(ctx(), e.ID, func(_ context.Context, recordID int64) error {
		replayed = recordID
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if replayed != 7 {
		t.Fatalf("expected record 7 replayed, got %d", replayed)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected ReplayedAt to be set")
	}

	stored, err := svc.Get(ctx(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ReplayedAt == nil {
		t.Fatal("expected stored entry marked replayed")
	}
}

func TestReplayFailureKeepsEntry(t *testing.T) {
	svc, _ := newService()

	e, _ := svc.PushExhausted(ctx(), 7, 2, "missing")
	boom := errors.New("still missing")

	_, err := svc.Replay(ctx(), e.ID, func(context.Context, int64) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped replay error, got %v", err)
	}

	stored, _ := svc.Get(ctx(), e.ID)
	if stored.ReplayedAt != nil {
		t.Fatal("failed replay must not mark the entry")
	}
}

func TestReplayNotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Replay(ctx(), id.NewDLQID(), func(context.Context, int64) error { return nil })
	if !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplayBulk(t *testing.T) {
	svc, _ := newService()

	for _, rid := range []int64{1, 2, 3} {
		if _, err := svc.PushExhausted(ctx(), rid, 2, "missing"); err != nil {
			t.Fatal(err)
		}
	}

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	count, err := svc.ReplayBulk(ctx(), from, to, func(_ context.Context, recordID int64) error {
		if recordID == 2 {
			return errors.New("nope")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected first replay error")
	}
	if count != 2 {
		t.Fatalf("expected 2 replayed, got %d", count)
	}

	// Replayed entries are skipped on the next run.
	count, err = svc.ReplayBulk(ctx(), from, to, func(context.Context, int64) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 replayed, got %d", count)
	}
}

func TestPurgeAndCount(t *testing.T) {
	svc, _ := newService()

	for i := range 3 {
		if _, err := svc.PushExhausted(ctx(), int64(i+1), 2, "missing"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := svc.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}

	purged, err := svc.Purge(ctx(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 3 {
		t.Fatalf("expected 3 purged, got %d", purged)
	}
}
