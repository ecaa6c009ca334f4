package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
)

func ctx() context.Context { return context.Background() }

func newStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func task(recordID int64, runAt time.Time) *schedule.Task {
	return &schedule.Task{
		Entity:   entity.New(),
		ID:       id.NewRecheckID(),
		RecordID: recordID,
		Attempt:  1,
		RunAt:    runAt,
	}
}

func TestPing(t *testing.T) {
	s := newStore(t)
	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
}

func TestRecordMerge(t *testing.T) {
	s := newStore(t)

	if _, err := s.GetRecord(ctx(), 1); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = s.PutRecord(ctx(), &record.Record{ID: 1, Type: "crbs_booking", Status: "draft", Meta: record.Meta{"a": "1", "b": "2"}})
	_ = s.PutRecord(ctx(), &record.Record{ID: 1, Type: "crbs_booking", Status: "publish", Meta: record.Meta{"b": "3"}})

	r, err := s.GetRecord(ctx(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != "publish" || r.Meta["a"] != "1" || r.Meta["b"] != "3" {
		t.Fatalf("unexpected merged record %+v", r)
	}
	if r.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := newStore(t)

	if _, ok, err := s.GetMeta(ctx(), 5, "x"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	_ = s.SetMeta(ctx(), 5, "_qzb_sent", true)
	_ = s.SetMeta(ctx(), 5, "_qzb_recheck_count", 2)

	v, ok, err := s.GetMeta(ctx(), 5, "_qzb_sent")
	if err != nil || !ok || v != true {
		t.Fatalf("expected true, got %v ok=%v err=%v", v, ok, err)
	}
	v, _, _ = s.GetMeta(ctx(), 5, "_qzb_recheck_count")
	if v != float64(2) {
		t.Fatalf("expected numeric 2, got %#v", v)
	}

	// SetMeta creates the record.
	if _, err := s.GetRecord(ctx(), 5); err != nil {
		t.Fatalf("expected record to exist, got %v", err)
	}
}

func TestListRecords(t *testing.T) {
	s := newStore(t)

	for i := int64(1); i <= 4; i++ {
		_ = s.PutRecord(ctx(), &record.Record{ID: i, Type: "crbs_booking", Status: "publish"})
	}
	_ = s.SetMeta(ctx(), 2, "sent", true)
	_ = s.SetMeta(ctx(), 4, "sent", true)

	all, err := s.ListRecords(ctx(), record.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].ID != 4 {
		t.Fatalf("expected 4 records highest first, got %d", len(all))
	}

	sent, _ := s.ListRecords(ctx(), record.ListOpts{HasMeta: "sent"})
	if len(sent) != 2 || sent[0].ID != 4 || sent[1].ID != 2 {
		t.Fatalf("unexpected sent records %+v", sent)
	}

	page, _ := s.ListRecords(ctx(), record.ListOpts{Offset: 1, Limit: 2})
	if len(page) != 2 || page[0].ID != 3 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestOptions(t *testing.T) {
	s := newStore(t)

	if _, ok, _ := s.GetOption(ctx(), "qzb_webhook_url"); ok {
		t.Fatal("expected option to be absent")
	}
	_ = s.SetOption(ctx(), "qzb_webhook_url", "https://flow.zoho.com/hook")
	_ = s.SetOption(ctx(), "qzb_retry_attempts", 3)

	v, ok, err := s.GetOption(ctx(), "qzb_webhook_url")
	if err != nil || !ok || v != "https://flow.zoho.com/hook" {
		t.Fatalf("unexpected option %v ok=%v err=%v", v, ok, err)
	}

	all, err := s.ListOptions(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["qzb_retry_attempts"] != float64(3) {
		t.Fatalf("unexpected options %+v", all)
	}
}

func TestScheduleDedup(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	ok, err := s.ScheduleRecheck(ctx(), task(1, now))
	if err != nil || !ok {
		t.Fatalf("expected first schedule to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.ScheduleRecheck(ctx(), task(1, now.Add(time.Minute)))
	if err != nil || ok {
		t.Fatalf("expected duplicate to be refused, got ok=%v err=%v", ok, err)
	}

	pending, err := s.PendingRecheck(ctx(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !pending.RunAt.Equal(now) {
		t.Fatal("pending task must be the first one scheduled")
	}
	if _, err := s.PendingRecheck(ctx(), 2); !errors.Is(err, schedule.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDueRechecks(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	_, _ = s.ScheduleRecheck(ctx(), task(1, now.Add(-2*time.Second)))
	_, _ = s.ScheduleRecheck(ctx(), task(2, now.Add(-time.Second)))
	_, _ = s.ScheduleRecheck(ctx(), task(3, now.Add(time.Hour)))

	due, err := s.DueRechecks(ctx(), now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].RecordID != 1 {
		t.Fatalf("expected record 1 first, got %+v", due)
	}

	due, _ = s.DueRechecks(ctx(), now, 10)
	if len(due) != 1 || due[0].RecordID != 2 {
		t.Fatalf("expected record 2, got %+v", due)
	}

	if n, _ := s.CountRechecks(ctx()); n != 1 {
		t.Fatalf("expected 1 future task left, got %d", n)
	}
	if _, err := s.PendingRecheck(ctx(), 1); !errors.Is(err, schedule.ErrTaskNotFound) {
		t.Fatalf("claimed task must be gone, got %v", err)
	}
	if ok, _ := s.ScheduleRecheck(ctx(), task(1, now)); !ok {
		t.Fatal("expected reschedule after claim")
	}
}

func TestDLQ(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	old := &dlq.Entry{Entity: entity.New(), ID: id.NewDLQID(), RecordID: 1, Reason: dlq.ReasonExhausted, FailedAt: now.Add(-48 * time.Hour)}
	recent := &dlq.Entry{Entity: entity.New(), ID: id.NewDLQID(), RecordID: 2, Reason: dlq.ReasonDeliveryFailed, Error: "HTTP 500", FailedAt: now}
	_ = s.Push(ctx(), old)
	_ = s.Push(ctx(), recent)

	list, err := s.ListDLQ(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].RecordID != 2 {
		t.Fatalf("expected newest first, got %+v", list)
	}

	byRecord, _ := s.ListDLQ(ctx(), dlq.ListOpts{RecordID: 1})
	if len(byRecord) != 1 || byRecord[0].ID != old.ID {
		t.Fatalf("unexpected record filter result %+v", byRecord)
	}
	byReason, _ := s.ListDLQ(ctx(), dlq.ListOpts{Reason: dlq.ReasonDeliveryFailed})
	if len(byReason) != 1 || byReason[0].ID != recent.ID {
		t.Fatalf("unexpected reason filter result %+v", byReason)
	}

	if err := s.MarkReplayed(ctx(), recent.ID, now); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDLQ(ctx(), recent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected ReplayedAt")
	}
	if _, err := s.GetDLQ(ctx(), id.NewDLQID()); !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	purged, err := s.Purge(ctx(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if n, _ := s.CountDLQ(ctx()); n != 1 {
		t.Fatalf("expected 1 left, got %d", n)
	}
}
