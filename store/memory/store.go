// Package memory provides an in-memory Store implementation for tests and
// single-process use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/flowbridge"
	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
	bridgestore "github.com/xraph/flowbridge/store"
)

// compile-time interface check.
var _ bridgestore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	records  map[int64]*record.Record
	options  map[string]any
	rechecks map[int64]*schedule.Task // keyed by record id
	dlq      map[string]*dlq.Entry    // keyed by ID string

	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records:  make(map[int64]*record.Record),
		options:  make(map[string]any),
		rechecks: make(map[int64]*schedule.Task),
		dlq:      make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return flowbridge.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// record.Store
// ──────────────────────────────────────────────────

// GetRecord returns a copy of the record.
func (s *Store) GetRecord(_ context.Context, recordID int64) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, record.ErrNotFound
	}
	return r.Clone(), nil
}

// GetMeta returns one metadata value.
func (s *Store) GetMeta(_ context.Context, recordID int64, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, false, nil
	}
	v, ok := r.Meta[key]
	return v, ok, nil
}

// SetMeta stores one metadata value, creating the record if needed.
func (s *Store) SetMeta(_ context.Context, recordID int64, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensure(recordID)
	r.Meta[key] = value
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// PutRecord merges a snapshot into the stored record.
func (s *Store) PutRecord(_ context.Context, snap *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensure(snap.ID)
	r.Type = snap.Type
	r.Status = snap.Status
	for k, v := range snap.Meta {
		r.Meta[k] = v
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ListRecords returns records ordered by id descending.
func (s *Store) ListRecords(_ context.Context, opts record.ListOpts) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*record.Record, 0, len(s.records))
	for _, r := range s.records {
		if opts.HasMeta != "" {
			if _, ok := r.Meta[opts.HasMeta]; !ok {
				continue
			}
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ensure(recordID int64) *record.Record {
	r, ok := s.records[recordID]
	if !ok {
		r = &record.Record{ID: recordID, Meta: make(record.Meta)}
		s.records[recordID] = r
	}
	return r
}

// ──────────────────────────────────────────────────
// settings.Store
// ──────────────────────────────────────────────────

// GetOption returns a stored option.
func (s *Store) GetOption(_ context.Context, name string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.options[name]
	return v, ok, nil
}

// SetOption stores an option.
func (s *Store) SetOption(_ context.Context, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[name] = value
	return nil
}

// ListOptions returns a copy of all stored options.
func (s *Store) ListOptions(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.options))
	for k, v := range s.options {
		out[k] = v
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// schedule.Store
// ──────────────────────────────────────────────────

// ScheduleRecheck stores t unless a task for the record is pending.
func (s *Store) ScheduleRecheck(_ context.Context, t *schedule.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rechecks[t.RecordID]; ok {
		return false, nil
	}
	cp := *t
	s.rechecks[t.RecordID] = &cp
	return true, nil
}

// DueRechecks removes and returns due tasks, earliest first.
func (s *Store) DueRechecks(_ context.Context, now time.Time, limit int) ([]*schedule.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*schedule.Task, 0)
	for _, t := range s.rechecks {
		if !t.RunAt.After(now) {
			due = append(due, t)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}

	for _, t := range due {
		delete(s.rechecks, t.RecordID)
	}
	return due, nil
}

// PendingRecheck returns the pending task for recordID.
func (s *Store) PendingRecheck(_ context.Context, recordID int64) (*schedule.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.rechecks[recordID]
	if !ok {
		return nil, schedule.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// CountRechecks returns the number of pending tasks.
func (s *Store) CountRechecks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rechecks)), nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push stores a DLQ entry.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.dlq[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlq))
	for _, e := range s.dlq {
		if opts.Matches(e) {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// GetDLQ returns an entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlq[dlqID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkReplayed sets ReplayedAt on an entry.
func (s *Store) MarkReplayed(_ context.Context, dlqID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlq[dlqID.String()]
	if !ok {
		return dlq.ErrNotFound
	}
	e.ReplayedAt = &at
	e.UpdatedAt = at
	return nil
}

// Purge deletes entries that failed before the threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlq {
		if e.FailedAt.Before(before) {
			delete(s.dlq, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dlq)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
