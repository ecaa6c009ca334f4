package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/flowbridge/schedule"
	"github.com/xraph/flowbridge/store/memory"
)

func ctx() context.Context { return context.Background() }

type recorder struct {
	mu    sync.Mutex
	tasks []*schedule.Task
}

func (r *recorder) handle(_ context.Context, t *schedule.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestScheduleDedup(t *testing.T) {
	store := memory.New()
	rec := &recorder{}
	s := schedule.NewScheduler(store, rec.handle, schedule.Config{Delay: time.Hour}, nil)

	ok, err := s.Schedule(ctx(), 42, true, 1)
	if err != nil || !ok {
		t.Fatalf("expected first schedule, got ok=%v err=%v", ok, err)
	}
	ok, err = s.Schedule(ctx(), 42, false, 2)
	if err != nil || ok {
		t.Fatalf("expected duplicate refused, got ok=%v err=%v", ok, err)
	}

	n, _ := store.CountRechecks(ctx())
	if n != 1 {
		t.Fatalf("expected 1 pending task, got %d", n)
	}

	pending, err := store.PendingRecheck(ctx(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if !pending.FirstPublish || pending.Attempt != 1 {
		t.Fatalf("expected the first task to survive, got %+v", pending)
	}

	// Not due yet.
	ran, err := s.RunDue(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if ran != 0 || rec.len() != 0 {
		t.Fatalf("expected nothing to run, ran %d", ran)
	}
}

func TestRunDue(t *testing.T) {
	store := memory.New()
	rec := &recorder{}
	s := schedule.NewScheduler(store, rec.handle, schedule.Config{}, nil)

	for _, id := range []int64{1, 2, 3} {
		if _, err := s.Schedule(ctx(), id, false, 1); err != nil {
			t.Fatal(err)
		}
	}

	ran, err := s.RunDue(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if ran != 3 || rec.len() != 3 {
		t.Fatalf("expected 3 tasks run, got %d", ran)
	}

	// Claimed tasks are gone.
	if ran, _ = s.RunDue(ctx()); ran != 0 {
		t.Fatalf("expected no tasks left, ran %d", ran)
	}
}

func TestRunDueBatchSize(t *testing.T) {
	store := memory.New()
	rec := &recorder{}
	s := schedule.NewScheduler(store, rec.handle, schedule.Config{BatchSize: 2}, nil)

	for _, id := range []int64{1, 2, 3} {
		_, _ = s.Schedule(ctx(), id, false, 1)
	}

	if ran, _ := s.RunDue(ctx()); ran != 2 {
		t.Fatalf("expected batch of 2, got %d", ran)
	}
	if ran, _ := s.RunDue(ctx()); ran != 1 {
		t.Fatalf("expected remaining 1, got %d", ran)
	}
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	rec := &recorder{}
	s := schedule.NewScheduler(store, rec.handle, schedule.Config{PollInterval: 5 * time.Millisecond}, nil)

	if _, err := s.Schedule(ctx(), 7, false, 1); err != nil {
		t.Fatal(err)
	}

	s.Start(ctx())
	deadline := time.Now().Add(2 * time.Second)
	for rec.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop(ctx())

	if rec.len() != 1 {
		t.Fatalf("expected the poll loop to run 1 task, got %d", rec.len())
	}
}
