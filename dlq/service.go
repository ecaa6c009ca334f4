package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/flowbridge/delivery"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
)

// ReplayFunc reprocesses a record. A nil error marks the replay done.
type ReplayFunc func(ctx context.Context, recordID int64) error

// Service manages the dead letter queue.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// PushExhausted records a record whose required fields never appeared.
func (svc *Service) PushExhausted(ctx context.Context, recordID int64, rechecks int, reason string) (*Entry, error) {
	e := &Entry{
		Entity:       entity.New(),
		ID:           id.NewDLQID(),
		RecordID:     recordID,
		Reason:       ReasonExhausted,
		Error:        reason,
		AttemptCount: rechecks,
		FailedAt:     time.Now().UTC(),
	}
	if err := svc.store.Push(ctx, e); err != nil {
		return nil, fmt.Errorf("dlq: push: %w", err)
	}
	return e, nil
}

// PushFailed records a delivery whose attempts all failed.
func (svc *Service) PushFailed(ctx context.Context, recordID int64, url string, payload any, sendErr error) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dlq: marshal payload: %w", err)
	}

	e := &Entry{
		Entity:   entity.New(),
		ID:       id.NewDLQID(),
		RecordID: recordID,
		Reason:   ReasonDeliveryFailed,
		URL:      url,
		Payload:  raw,
		Error:    sendErr.Error(),
		FailedAt: time.Now().UTC(),
	}

	var failed *delivery.FailedError
	if errors.As(sendErr, &failed) {
		e.AttemptCount = failed.Attempts
		e.LastStatusCode = failed.LastStatusCode()
	}

	if err := svc.store.Push(ctx, e); err != nil {
		return nil, fmt.Errorf("dlq: push: %w", err)
	}
	return e, nil
}

// List returns entries matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns an entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay reprocesses the entry's record with fn and marks the entry
// replayed on success.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID, fn ReplayFunc) (*Entry, error) {
	e, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return nil, err
	}

	if err := fn(ctx, e.RecordID); err != nil {
		svc.logger.WarnContext(ctx, "dlq replay failed", "dlq_id", dlqID, "record_id", e.RecordID, "error", err)
		return e, fmt.Errorf("dlq: replay %s: %w", dlqID, err)
	}

	now := time.Now().UTC()
	if err := svc.store.MarkReplayed(ctx, dlqID, now); err != nil {
		return e, fmt.Errorf("dlq: mark replayed: %w", err)
	}
	e.ReplayedAt = &now
	return e, nil
}

// ReplayBulk replays every unreplayed entry that failed in [from, to]. It
// returns the number of successful replays and the first error seen.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time, fn ReplayFunc) (int, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var firstErr error
	replayed := 0
	for _, e := range entries {
		if e.ReplayedAt != nil {
			continue
		}
		if _, err := svc.Replay(ctx, e.ID, fn); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		replayed++
	}
	return replayed, firstErr
}

// Purge removes entries that failed before the threshold.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
