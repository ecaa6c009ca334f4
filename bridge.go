package flowbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/flowbridge/delivery"
	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/event"
	"github.com/xraph/flowbridge/extract"
	"github.com/xraph/flowbridge/gate"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/observability"
	"github.com/xraph/flowbridge/payload"
	"github.com/xraph/flowbridge/ratelimit"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
	"github.com/xraph/flowbridge/settings"
	"github.com/xraph/flowbridge/state"
	"github.com/xraph/flowbridge/store"
)

// Bridge turns booking events into automation webhook deliveries.
type Bridge struct {
	config     Config
	store      store.Store
	logger     *slog.Logger
	filters    []payload.Filter
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	pause      func(ctx context.Context, d time.Duration) error
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	settings  *settings.Settings
	tracker   *state.Tracker
	builder   *payload.Builder
	validator *payload.Validator
	sender    *delivery.Sender
	scheduler *schedule.Scheduler
	dlqSvc    *dlq.Service

	// mu runs one event at a time.
	mu sync.Mutex
}

// New creates a Bridge with the given options.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	b.wireServices()
	return b, nil
}

func (b *Bridge) wireServices() {
	b.settings = settings.New(b.store)
	b.tracker = state.NewTracker(b.store)

	bopts := []payload.BuilderOption{payload.WithEvent(b.config.EventName)}
	if b.config.EventIDPrefix != "" {
		bopts = append(bopts, payload.WithEventIDPrefix(b.config.EventIDPrefix))
	}
	for _, f := range b.filters {
		bopts = append(bopts, payload.WithFilter(f))
	}
	b.builder = payload.NewBuilder(bopts...)
	b.validator = payload.NewValidator()

	sopts := []delivery.SenderOption{delivery.WithLogger(b.logger)}
	if b.httpClient != nil {
		sopts = append(sopts, delivery.WithHTTPClient(b.httpClient))
	}
	if b.limiter != nil {
		sopts = append(sopts, delivery.WithLimiter(b.limiter))
	}
	if b.pause != nil {
		sopts = append(sopts, delivery.WithPause(b.pause))
	}
	b.sender = delivery.NewSender(sopts...)

	b.dlqSvc = dlq.NewService(b.store, b.logger)
	b.scheduler = schedule.NewScheduler(b.store, b.runRecheck, schedule.Config{
		Delay:        b.config.RecheckDelay,
		PollInterval: b.config.PollInterval,
		BatchSize:    b.config.BatchSize,
	}, b.logger)
}

// ──────────────────────────────────────────────────
// Triggers
// ──────────────────────────────────────────────────

// HandleSaved reacts to a record being created or updated.
func (b *Bridge) HandleSaved(ctx context.Context, ev event.Saved) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countEvent(event.KindSaved)

	res := &Result{RecordID: ev.RecordID}
	if ev.Autosave || ev.Revision {
		res.Success = true
		res.Reason = "Autosave or revision ignored"
		return res
	}

	rec, err := b.snapshot(ctx, ev.RecordID, ev.Record)
	if err != nil {
		return b.unavailable(ctx, res, err)
	}
	if rec == nil {
		res.Success = true
		res.Reason = "Record type not tracked"
		return res
	}
	return b.evaluate(ctx, event.KindSaved, rec, ev.FirstPublish(), res)
}

// HandleStatusTransition reacts to a record's publish state changing.
func (b *Bridge) HandleStatusTransition(ctx context.Context, ev event.StatusTransition) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countEvent(event.KindStatus)

	var (
		recordID int64
		snap     *record.Record
	)
	if ev.Record != nil {
		recordID = ev.Record.ID
		snap = ev.Record.Clone()
		snap.Status = ev.NewStatus
	}
	res := &Result{RecordID: recordID}

	rec, err := b.snapshot(ctx, recordID, snap)
	if err != nil {
		return b.unavailable(ctx, res, err)
	}
	if rec == nil {
		res.Success = true
		res.Reason = "Record type not tracked"
		return res
	}
	return b.evaluate(ctx, event.KindStatus, rec, ev.FirstPublish(), res)
}

// runRecheck is the scheduler handler for due re-checks.
func (b *Bridge) runRecheck(ctx context.Context, t *schedule.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countEvent("recheck")
	if b.metrics != nil {
		b.metrics.RechecksPending.Dec()
	}

	res := &Result{RecordID: t.RecordID}
	rec, err := b.store.GetRecord(ctx, t.RecordID)
	if err != nil {
		b.logger.WarnContext(ctx, "re-check could not load record", "record_id", t.RecordID, "error", err)
		return
	}
	res = b.evaluate(ctx, "recheck", rec, t.FirstPublish, res)
	b.logger.DebugContext(ctx, "re-check finished",
		"record_id", t.RecordID, "attempt", t.Attempt, "outcome", res.Outcome, "success", res.Success)
}

// snapshot merges the event's record into the store and returns the full
// record. It returns nil for records of another type.
func (b *Bridge) snapshot(ctx context.Context, recordID int64, snap *record.Record) (*record.Record, error) {
	if b.config.RecordType == "" {
		return nil, ErrIntegrationUnavailable
	}
	if snap != nil {
		if snap.ID == 0 {
			snap.ID = recordID
		}
		if snap.Type != "" && snap.Type != b.config.RecordType {
			return nil, nil
		}
		if snap.Type == "" {
			snap.Type = b.config.RecordType
		}
		if err := b.store.PutRecord(ctx, snap); err != nil {
			return nil, fmt.Errorf("flowbridge: store snapshot: %w", err)
		}
	}

	rec, err := b.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Type != b.config.RecordType {
		return nil, nil
	}
	return rec, nil
}

func (b *Bridge) unavailable(ctx context.Context, res *Result, err error) *Result {
	if errors.Is(err, ErrIntegrationUnavailable) {
		b.logger.WarnContext(ctx, "booking integration not detected, nothing sent", "record_id", res.RecordID)
	} else {
		b.logger.ErrorContext(ctx, "load record failed", "record_id", res.RecordID, "error", err)
	}
	return res.fail(err)
}

// ──────────────────────────────────────────────────
// Evaluation
// ──────────────────────────────────────────────────

// evaluate runs the eligibility gate and acts on its decision. Callers hold
// b.mu.
func (b *Bridge) evaluate(ctx context.Context, kind string, rec *record.Record, firstPublish bool, res *Result) *Result {
	ctx, end := b.startEventSpan(ctx, kind, rec.ID)
	defer func() {
		var err error
		if !res.Success && res.Error != "" {
			err = errors.New(res.Error)
		}
		end(string(res.Outcome), err)
	}()

	vals, err := b.settings.Load(ctx)
	if err != nil {
		b.logger.ErrorContext(ctx, "load settings failed", "error", err)
		return res.fail(err)
	}
	log := observability.LevelLogger(b.logger, vals.LoggingEnabled, vals.LogLevel).
		With("record_id", rec.ID, "trigger", kind)

	st, err := b.tracker.Load(ctx, rec.ID)
	if err != nil {
		log.ErrorContext(ctx, "load delivery state failed", "error", err)
		return res.fail(err)
	}

	ext := extract.New(rec.Meta, vals.ContextPrefix)
	d := gate.Evaluate(vals.Policy(b.config.MaxRechecks), gate.Input{
		Published:    rec.Published(),
		StatusID:     ext.Int(extract.StatusID),
		Sent:         st.Sent,
		FirstPublish: firstPublish,
		Complete:     extract.HasMinimumFields(rec.Meta, vals.ContextPrefix),
		Rechecks:     st.Rechecks,
	})
	res.decide(d)
	b.countDecision(d.Outcome)

	switch d.Outcome {
	case gate.NotPublished, gate.Duplicate, gate.SkippedStatus:
		log.DebugContext(ctx, "record not sent", "outcome", d.Outcome, "reason", d.Reason)
		res.Success = true
		return res

	case gate.PendingIncomplete:
		return b.reschedule(ctx, log, rec.ID, firstPublish, st.Rechecks, res)

	case gate.Exhausted:
		_, err := b.store.PendingRecheck(ctx, rec.ID)
		switch {
		case err == nil:
			// The final re-check has not run yet.
			return res.fail(ErrDataIncomplete)
		case !errors.Is(err, schedule.ErrTaskNotFound):
			log.ErrorContext(ctx, "load pending re-check failed", "error", err)
			return res.fail(err)
		}
		return b.exhaust(ctx, log, rec.ID, st.Rechecks, d.Reason, res)
	}

	return b.deliver(ctx, log, vals, rec, res)
}

func (b *Bridge) reschedule(ctx context.Context, log *slog.Logger, recordID int64, firstPublish bool, rechecks int, res *Result) *Result {
	scheduled, err := b.scheduler.Schedule(ctx, recordID, firstPublish, rechecks+1)
	if err != nil {
		log.ErrorContext(ctx, "schedule re-check failed", "error", err)
		return res.fail(err)
	}
	if scheduled {
		if b.metrics != nil {
			b.metrics.RechecksPending.Inc()
		}
		if _, err := b.tracker.IncrementRechecks(ctx, recordID); err != nil {
			log.ErrorContext(ctx, "update re-check count failed", "error", err)
			return res.fail(err)
		}
		log.InfoContext(ctx, "required fields missing, re-check scheduled",
			"attempt", rechecks+1, "delay", b.config.RecheckDelay)
	}
	res.Rescheduled = scheduled
	return res.fail(ErrDataIncomplete)
}

func (b *Bridge) exhaust(ctx context.Context, log *slog.Logger, recordID int64, rechecks int, reason string, res *Result) *Result {
	log.WarnContext(ctx, "required fields still missing, giving up", "rechecks", rechecks)

	entry, err := b.dlqSvc.PushExhausted(ctx, recordID, rechecks, reason)
	if err != nil {
		log.ErrorContext(ctx, "dead-letter record failed", "error", err)
		return res.fail(err)
	}
	res.DLQID = &entry.ID
	b.countDLQ()

	if err := b.tracker.RecordFailure(ctx, recordID, reason); err != nil {
		return res.fail(err)
	}
	// A later save starts a fresh re-check cycle.
	if err := b.tracker.ResetRechecks(ctx, recordID); err != nil {
		return res.fail(err)
	}
	return res.fail(fmt.Errorf("%w: %s", ErrDataIncomplete, reason))
}

// deliver builds, records and sends the payload of rec.
func (b *Bridge) deliver(ctx context.Context, log *slog.Logger, vals settings.Values, rec *record.Record, res *Result) *Result {
	p := b.builder.Build(rec, vals.ContextPrefix)
	res.Payload = p

	if err := b.tracker.SaveSnapshot(ctx, rec.ID, p); err != nil {
		log.ErrorContext(ctx, "save payload snapshot failed", "error", err)
		return res.fail(err)
	}
	if vals.LogsConsole() {
		if pretty, err := payload.Pretty(p); err == nil {
			log.DebugContext(ctx, "payload built", "payload", pretty)
		}
	}

	if err := b.validator.Validate(p); err != nil {
		log.ErrorContext(ctx, "payload rejected", "error", err)
		_ = b.tracker.RecordFailure(ctx, rec.ID, err.Error())
		return res.fail(err)
	}

	if vals.WebhookURL == "" {
		log.ErrorContext(ctx, "webhook URL not configured")
		_ = b.tracker.RecordFailure(ctx, rec.ID, ErrWebhookURLMissing.Error())
		return res.fail(ErrWebhookURLMissing)
	}

	ctx, endDelivery := b.startDeliverySpan(ctx, rec.ID, p.EventID)
	start := time.Now()
	resp, err := b.sender.Send(ctx, delivery.Request{
		URL:       vals.WebhookURL,
		Payload:   p,
		Attempts:  vals.RetryAttempts,
		Delay:     vals.RetryDelay,
		Timeout:   vals.RequestTimeout,
		Secret:    vals.WebhookSecret,
		RateLimit: vals.RateLimit,
	})
	b.recordDelivery(resp, err, time.Since(start))
	endDelivery(resp, err)

	if err != nil {
		log.ErrorContext(ctx, "webhook delivery failed", "error", err)
		_ = b.tracker.RecordFailure(ctx, rec.ID, err.Error())
		if errors.Is(err, delivery.ErrDeliveryFailed) {
			if entry, dlqErr := b.dlqSvc.PushFailed(ctx, rec.ID, vals.WebhookURL, p, err); dlqErr != nil {
				log.ErrorContext(ctx, "dead-letter delivery failed", "error", dlqErr)
			} else {
				res.DLQID = &entry.ID
				b.countDLQ()
			}
		}
		return res.fail(err)
	}

	if err := b.tracker.MarkSent(ctx, rec.ID); err != nil {
		log.ErrorContext(ctx, "mark sent failed", "error", err)
		return res.fail(err)
	}

	log.InfoContext(ctx, "booking sent", "status", resp.StatusCode, "attempts", resp.Attempts)
	res.Success = true
	res.Response = resp
	return res
}

// ──────────────────────────────────────────────────
// Administrative actions
// ──────────────────────────────────────────────────

// Reprocess sends recordID again, bypassing the trigger rules. Only the
// minimum-field check applies.
func (b *Bridge) Reprocess(ctx context.Context, recordID int64) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countEvent("reprocess")

	res := &Result{RecordID: recordID}
	if b.config.RecordType == "" {
		return b.unavailable(ctx, res, ErrIntegrationUnavailable)
	}

	rec, err := b.store.GetRecord(ctx, recordID)
	if err != nil {
		b.logger.WarnContext(ctx, "reprocess could not load record", "record_id", recordID, "error", err)
		res.fail(err)
		if errors.Is(err, record.ErrNotFound) {
			res.Error = "Could not load booking"
		}
		return res
	}

	ctx, end := b.startEventSpan(ctx, "reprocess", recordID)
	defer func() { end(string(res.Outcome), nil) }()

	vals, err := b.settings.Load(ctx)
	if err != nil {
		return res.fail(err)
	}
	log := observability.LevelLogger(b.logger, vals.LoggingEnabled, vals.LogLevel).
		With("record_id", recordID, "trigger", "reprocess")

	d := gate.CheckComplete(extract.HasMinimumFields(rec.Meta, vals.ContextPrefix))
	res.decide(d)
	b.countDecision(d.Outcome)
	if !d.Send() {
		log.InfoContext(ctx, "reprocess skipped", "reason", d.Reason)
		return res.fail(ErrDataIncomplete)
	}
	return b.deliver(ctx, log, vals, rec, res)
}

// ReplayDLQ reprocesses the record of a dead-letter entry and marks the
// entry replayed when the send succeeds.
func (b *Bridge) ReplayDLQ(ctx context.Context, dlqID id.ID) *Result {
	var res *Result
	_, err := b.dlqSvc.Replay(ctx, dlqID, func(ctx context.Context, recordID int64) error {
		res = b.Reprocess(ctx, recordID)
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	})
	if res == nil {
		res = &Result{}
	}
	if err != nil && res.Success {
		// The send went through but the entry could not be updated.
		return res.fail(err)
	}
	if err != nil && res.Error == "" {
		return res.fail(err)
	}
	return res
}

// ReplayDLQRange replays every unreplayed entry that failed in [from, to].
// It returns the number of successful replays and the first error seen.
func (b *Bridge) ReplayDLQRange(ctx context.Context, from, to time.Time) (int, error) {
	return b.dlqSvc.ReplayBulk(ctx, from, to, func(ctx context.Context, recordID int64) error {
		if res := b.Reprocess(ctx, recordID); !res.Success {
			return errors.New(res.Error)
		}
		return nil
	})
}

// Diagnosis explains why a record was or was not sent.
type Diagnosis struct {
	RecordID       int64        `json:"record_id"`
	StatusID       int          `json:"status_id"`
	StatusName     string       `json:"status_name"`
	Published      bool         `json:"published"`
	Complete       bool         `json:"complete"`
	Sent           bool         `json:"sent"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	Rechecks       int          `json:"recheck_count"`
	PendingRecheck bool         `json:"pending_recheck"`
	LastError      string       `json:"last_error,omitempty"`
	Outcome        gate.Outcome `json:"outcome"`
	Reason         string       `json:"reason"`
}

// Diagnose replays the eligibility checks for recordID without side
// effects.
func (b *Bridge) Diagnose(ctx context.Context, recordID int64) (*Diagnosis, error) {
	rec, err := b.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	vals, err := b.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	st, err := b.tracker.Load(ctx, recordID)
	if err != nil {
		return nil, err
	}

	ext := extract.New(rec.Meta, vals.ContextPrefix)
	diag := &Diagnosis{
		RecordID:  recordID,
		StatusID:  ext.Int(extract.StatusID),
		Published: rec.Published(),
		Complete:  extract.HasMinimumFields(rec.Meta, vals.ContextPrefix),
		Sent:      st.Sent,
		SentAt:    st.SentAt,
		Rechecks:  st.Rechecks,
		LastError: st.LastError,
	}
	diag.StatusName = gate.StatusName(diag.StatusID)

	if _, err := b.store.PendingRecheck(ctx, recordID); err == nil {
		diag.PendingRecheck = true
	} else if !errors.Is(err, schedule.ErrTaskNotFound) {
		return nil, err
	}

	d := gate.Evaluate(vals.Policy(b.config.MaxRechecks), gate.Input{
		Published: diag.Published,
		StatusID:  diag.StatusID,
		Sent:      diag.Sent,
		Complete:  diag.Complete,
		Rechecks:  diag.Rechecks,
	})
	diag.Outcome = d.Outcome

	switch d.Outcome {
	case gate.Duplicate:
		diag.Reason = "Already sent"
		if st.SentAt != nil {
			diag.Reason = "Already sent at " + st.SentAt.Format(state.TimeLayout)
		}
	case gate.PendingIncomplete, gate.Exhausted:
		diag.Reason = "Missing required fields"
	case gate.Proceed:
		diag.Reason = "Not processed yet (may need to save booking again)"
	default:
		diag.Reason = d.Reason
	}
	return diag, nil
}

// Snapshot returns the delivery state of recordID, including the last
// built payload.
func (b *Bridge) Snapshot(ctx context.Context, recordID int64) (*state.State, error) {
	if _, err := b.store.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return b.tracker.Load(ctx, recordID)
}

// SentRecords returns the delivery state of records carrying a sent marker,
// newest record first.
func (b *Bridge) SentRecords(ctx context.Context, offset, limit int) ([]*state.State, error) {
	recs, err := b.store.ListRecords(ctx, record.ListOpts{HasMeta: state.KeySent, Offset: offset, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*state.State, 0, len(recs))
	for _, r := range recs {
		st, err := b.tracker.Load(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if st.Sent {
			out = append(out, st)
		}
	}
	return out, nil
}

// Stats summarizes the bridge's queues.
type Stats struct {
	PendingRechecks int64 `json:"pending_rechecks"`
	DLQSize         int64 `json:"dlq_size"`
}

// Stats returns queue sizes.
func (b *Bridge) Stats(ctx context.Context) (*Stats, error) {
	pending, err := b.store.CountRechecks(ctx)
	if err != nil {
		return nil, err
	}
	dlqSize, err := b.dlqSvc.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{PendingRechecks: pending, DLQSize: dlqSize}, nil
}

// ──────────────────────────────────────────────────
// Accessors and lifecycle
// ──────────────────────────────────────────────────

// Settings returns the named options.
func (b *Bridge) Settings() *settings.Settings { return b.settings }

// DLQ returns the dead letter queue service.
func (b *Bridge) DLQ() *dlq.Service { return b.dlqSvc }

// Scheduler returns the re-check scheduler.
func (b *Bridge) Scheduler() *schedule.Scheduler { return b.scheduler }

// Store returns the persistence backend.
func (b *Bridge) Store() store.Store { return b.store }

// Config returns the bridge configuration.
func (b *Bridge) Config() Config { return b.config }

// Start begins running due re-checks in the background.
func (b *Bridge) Start(ctx context.Context) {
	b.scheduler.Start(ctx)
}

// Stop stops the scheduler, waiting up to ShutdownTimeout for a running
// re-check.
func (b *Bridge) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.scheduler.Stop(ctx)
		close(done)
	}()

	timeout := b.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("flowbridge: shutdown timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// Instrumentation
// ──────────────────────────────────────────────────

func (b *Bridge) countEvent(kind string) {
	if b.metrics != nil {
		b.metrics.RecordEvent(kind)
	}
}

func (b *Bridge) countDLQ() {
	if b.metrics != nil {
		b.metrics.DLQSize.Inc()
	}
}

func (b *Bridge) countDecision(o gate.Outcome) {
	if b.metrics != nil {
		b.metrics.RecordDecision(string(o))
	}
}

func (b *Bridge) recordDelivery(resp *delivery.Response, err error, elapsed time.Duration) {
	if b.metrics == nil {
		return
	}
	status, attempts := "delivered", 0
	if resp != nil {
		attempts = resp.Attempts
	}
	var failed *delivery.FailedError
	if errors.As(err, &failed) {
		status, attempts = "failed", failed.Attempts
	} else if err != nil {
		status = "error"
	}
	b.metrics.RecordDelivery(status, elapsed.Seconds(), attempts)
}

func (b *Bridge) startEventSpan(ctx context.Context, kind string, recordID int64) (context.Context, func(string, error)) {
	if b.tracer == nil {
		return ctx, func(string, error) {}
	}
	ctx, span := b.tracer.StartEventSpan(ctx, kind, recordID)
	return ctx, func(outcome string, err error) { b.tracer.EndEventSpan(span, outcome, err) }
}

func (b *Bridge) startDeliverySpan(ctx context.Context, recordID int64, eventID string) (context.Context, func(*delivery.Response, error)) {
	if b.tracer == nil {
		return ctx, func(*delivery.Response, error) {}
	}
	var span trace.Span
	ctx, span = b.tracer.StartDeliverySpan(ctx, recordID, eventID)
	return ctx, func(resp *delivery.Response, err error) {
		code, attempts := 0, 0
		if resp != nil {
			code, attempts = resp.StatusCode, resp.Attempts
		}
		var failed *delivery.FailedError
		if errors.As(err, &failed) {
			code, attempts = failed.LastStatusCode(), failed.Attempts
		}
		b.tracer.EndDeliverySpan(span, code, attempts, err)
	}
}
