package flowbridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/flowbridge/observability"
	"github.com/xraph/flowbridge/payload"
	"github.com/xraph/flowbridge/ratelimit"
	"github.com/xraph/flowbridge/store"
)

// Option configures a Bridge instance.
type Option func(*Bridge) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(b *Bridge) error {
		b.store = s
		return nil
	}
}

// WithLogger sets the base logger. Per-event loggers derive from it.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) error {
		b.logger = l
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bridge) error {
		b.config = cfg
		return nil
	}
}

// WithRecordType sets the tracked record type.
func WithRecordType(t string) Option {
	return func(b *Bridge) error {
		b.config.RecordType = t
		return nil
	}
}

// WithEventName sets the event tag of built payloads.
func WithEventName(name string) Option {
	return func(b *Bridge) error {
		if name == "" {
			return errors.New("flowbridge: event name must not be empty")
		}
		b.config.EventName = name
		return nil
	}
}

// WithEventIDPrefix sets the prefix of the event_id of built payloads.
func WithEventIDPrefix(prefix string) Option {
	return func(b *Bridge) error {
		if prefix == "" {
			return errors.New("flowbridge: event id prefix must not be empty")
		}
		b.config.EventIDPrefix = prefix
		return nil
	}
}

// WithRecheckDelay sets the delay before a deferred re-check runs.
func WithRecheckDelay(d time.Duration) Option {
	return func(b *Bridge) error {
		if d < 0 {
			return errors.New("flowbridge: re-check delay must not be negative")
		}
		b.config.RecheckDelay = d
		return nil
	}
}

// WithMaxRechecks sets the re-check cap.
func WithMaxRechecks(n int) Option {
	return func(b *Bridge) error {
		if n < 0 {
			return errors.New("flowbridge: max re-checks must not be negative")
		}
		b.config.MaxRechecks = n
		return nil
	}
}

// WithPollInterval sets how often due re-checks are claimed.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.PollInterval = d
		return nil
	}
}

// WithFilter appends a payload post-processing filter.
func WithFilter(f payload.Filter) Option {
	return func(b *Bridge) error {
		b.filters = append(b.filters, f)
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for webhook delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) error {
		b.httpClient = c
		return nil
	}
}

// WithLimiter shares a rate limiter between bridges posting to the same
// host. The rate itself comes from the rate_limit option.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(b *Bridge) error {
		b.limiter = l
		return nil
	}
}

// WithPause replaces the wait between delivery attempts. Tests use it to
// avoid sleeping.
func WithPause(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bridge) error {
		b.pause = fn
		return nil
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) error {
		b.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Bridge) error {
		b.tracer = t
		return nil
	}
}
