package record

import "context"

// Reader is the read side of the host metadata store.
type Reader interface {
	// GetRecord returns the record with its full metadata mapping.
	GetRecord(ctx context.Context, recordID int64) (*Record, error)

	// GetMeta returns a single metadata value and whether it was present.
	GetMeta(ctx context.Context, recordID int64, key string) (any, bool, error)
}

// Writer is the write side of the host metadata store.
type Writer interface {
	// SetMeta stores a single metadata value, creating the record if needed.
	SetMeta(ctx context.Context, recordID int64, key string, value any) error

	// PutRecord merges a record snapshot into the store. Type and status are
	// replaced; every metadata key in the snapshot is set, other keys are kept.
	PutRecord(ctx context.Context, r *Record) error
}

// ListOpts filters and paginates ListRecords.
type ListOpts struct {
	// HasMeta restricts results to records carrying this metadata key.
	HasMeta string
	Offset  int
	Limit   int
}

// Store is the metadata store consumed by the bridge.
type Store interface {
	Reader
	Writer

	// ListRecords returns records ordered by id descending.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)
}
