// Package kafka feeds bridge events from a Kafka topic. Each message value
// is a JSON event.Envelope, the same body the HTTP event endpoints accept.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/xraph/flowbridge"
	"github.com/xraph/flowbridge/event"
)

const (
	minBytes = 1          // deliver single small events promptly
	maxBytes = 10_000_000 // 10MB
)

// Config selects the topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Handler receives decoded events. *flowbridge.Bridge implements it.
type Handler interface {
	HandleSaved(ctx context.Context, ev event.Saved) *flowbridge.Result
	HandleStatusTransition(ctx context.Context, ev event.StatusTransition) *flowbridge.Result
}

// Consumer reads envelopes and hands them to the bridge one at a time.
// Offsets are committed after handling, so a crash replays the last event
// and the duplicate gate absorbs it.
type Consumer struct {
	reader  Reader
	handler Handler
	logger  *slog.Logger
}

// NewReader builds a consumer-group reader with manual commits.
func NewReader(cfg Config) *kafkago.Reader {
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
		MaxWait:  maxWait,
	})
}

// NewConsumer creates a consumer.
func NewConsumer(reader Reader, handler Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: reader, handler: handler, logger: logger}
}

// Run consumes until ctx is cancelled or the reader fails. Cancellation
// returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("kafka: fetch: %w", err)
		}

		c.Handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka: commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Handle decodes one message and dispatches it. Malformed messages are
// logged and skipped. It returns nil for skipped messages.
func (c *Consumer) Handle(ctx context.Context, msg kafkago.Message) *flowbridge.Result {
	env, err := event.Decode(msg.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping malformed event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}

	var res *flowbridge.Result
	switch env.Kind {
	case event.KindSaved:
		res = c.handler.HandleSaved(ctx, env.Saved())
	case event.KindStatus:
		res = c.handler.HandleStatusTransition(ctx, env.Transition())
	}

	if res != nil && !res.Success && res.Kind == flowbridge.KindStore {
		c.logger.ErrorContext(ctx, "event failed", "record_id", env.RecordID, "offset", msg.Offset, "error", res.Error)
	}
	return res
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
