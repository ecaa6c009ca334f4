package dlq

import (
	"context"
	"time"

	"github.com/xraph/flowbridge/id"
)

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// Push stores a new entry.
	Push(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching opts, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns an entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// MarkReplayed records a successful replay.
	MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error

	// Purge deletes entries that failed before the threshold.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
