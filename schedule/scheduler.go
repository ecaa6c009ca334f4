package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
)

// Handler runs a due re-check.
type Handler func(ctx context.Context, t *Task)

// Config holds scheduler configuration.
type Config struct {
	// Delay is how far in the future a re-check is scheduled.
	Delay time.Duration

	// PollInterval is how often due tasks are claimed.
	PollInterval time.Duration

	// BatchSize caps the tasks claimed per poll.
	BatchSize int
}

// Scheduler enqueues re-checks and runs them when due, one at a time.
type Scheduler struct {
	store   Store
	handler Handler
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that passes due tasks to handler.
func NewScheduler(store Store, handler Handler, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Scheduler{
		store:   store,
		handler: handler,
		config:  cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Schedule enqueues a re-check of recordID after the configured delay. It
// reports false when one is already pending.
func (s *Scheduler) Schedule(ctx context.Context, recordID int64, firstPublish bool, attempt int) (bool, error) {
	t := &Task{
		Entity:       entity.New(),
		ID:           id.NewRecheckID(),
		RecordID:     recordID,
		FirstPublish: firstPublish,
		Attempt:      attempt,
		RunAt:        s.now().Add(s.config.Delay),
	}

	ok, err := s.store.ScheduleRecheck(ctx, t)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.DebugContext(ctx, "re-check already pending", "record_id", recordID)
		return false, nil
	}

	s.logger.DebugContext(ctx, "re-check scheduled",
		"record_id", recordID, "task_id", t.ID, "attempt", attempt, "run_at", t.RunAt)
	return true, nil
}

// RunDue claims the tasks due now and runs them sequentially. It returns
// the number of tasks run.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	batch, err := s.store.DueRechecks(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return 0, err
	}
	for i, t := range batch {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		s.handler(ctx, t)
	}
	return len(batch), nil
}

// Start begins the poll loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for the running re-check to finish.
func (s *Scheduler) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "claim due re-checks failed", "error", err)
			}
		}
	}
}
