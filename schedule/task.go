// Package schedule queues deferred re-checks of records whose metadata was
// incomplete when they were first evaluated.
//
// At most one re-check is pending per record id. Enqueuing while one is
// pending is a no-op, and a queued re-check is never cancelled.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
)

// ErrTaskNotFound is returned when no re-check is pending for a record.
var ErrTaskNotFound = errors.New("schedule: task not found")

// Task is a pending re-check.
type Task struct {
	entity.Entity

	ID       id.ID `json:"id"`
	RecordID int64 `json:"record_id"`

	// FirstPublish carries the kind of the event that scheduled the task,
	// so the re-check applies the same duplicate rules.
	FirstPublish bool `json:"first_publish"`

	// Attempt is the re-check number, starting at 1.
	Attempt int       `json:"attempt"`
	RunAt   time.Time `json:"run_at"`
}

// Store persists re-check tasks.
type Store interface {
	// ScheduleRecheck stores t unless a task for t.RecordID is pending. It
	// reports whether t was stored.
	ScheduleRecheck(ctx context.Context, t *Task) (bool, error)

	// DueRechecks removes and returns up to limit tasks with RunAt <= now,
	// earliest first.
	DueRechecks(ctx context.Context, now time.Time, limit int) ([]*Task, error)

	// PendingRecheck returns the pending task for recordID.
	PendingRecheck(ctx context.Context, recordID int64) (*Task, error)

	// CountRechecks returns the number of pending tasks.
	CountRechecks(ctx context.Context) (int64, error)
}
