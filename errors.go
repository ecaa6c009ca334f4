package flowbridge

import (
	"errors"

	"github.com/xraph/flowbridge/delivery"
	"github.com/xraph/flowbridge/payload"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/settings"
)

// Sentinel errors returned by Bridge operations.
var (
	// ErrNoStore is returned when a Bridge is created without a store.
	ErrNoStore = errors.New("flowbridge: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("flowbridge: store is closed")

	// ErrWebhookURLMissing is returned when no webhook URL is configured.
	ErrWebhookURLMissing = errors.New("flowbridge: webhook URL not configured")

	// ErrIntegrationUnavailable is returned when the booking plugin is not
	// detected, i.e. no record type is configured.
	ErrIntegrationUnavailable = errors.New("flowbridge: booking integration unavailable")

	// ErrDataIncomplete is returned when required booking fields are absent.
	ErrDataIncomplete = errors.New("flowbridge: required fields missing")

	// ErrRecordNotFound is returned when a record cannot be loaded.
	ErrRecordNotFound = record.ErrNotFound
)

// Kind classifies a failure so callers can branch without matching
// messages.
type Kind string

const (
	KindNone                   Kind = ""
	KindConfig                 Kind = "config"
	KindTransport              Kind = "transport"
	KindUpstream               Kind = "upstream"
	KindDeliveryFailed         Kind = "delivery_failed"
	KindDataIncomplete         Kind = "data_incomplete"
	KindIntegrationUnavailable Kind = "integration_unavailable"
	KindInvalidPayload         Kind = "invalid_payload"
	KindNotFound               Kind = "not_found"
	KindStore                  Kind = "store"
)

// Retryable reports whether the delivery loop retries errors of kind k.
func (k Kind) Retryable() bool {
	return k == KindTransport || k == KindUpstream
}

// KindOf classifies err. Unrecognized errors are store errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrWebhookURLMissing),
		errors.Is(err, delivery.ErrMissingURL),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, settings.ErrUnknownOption):
		return KindConfig
	case errors.Is(err, ErrIntegrationUnavailable):
		return KindIntegrationUnavailable
	case errors.Is(err, ErrDataIncomplete):
		return KindDataIncomplete
	case errors.Is(err, payload.ErrInvalid):
		return KindInvalidPayload
	case errors.Is(err, delivery.ErrDeliveryFailed):
		return KindDeliveryFailed
	case errors.Is(err, delivery.ErrTransport):
		return KindTransport
	case errors.Is(err, delivery.ErrUpstream):
		return KindUpstream
	case errors.Is(err, record.ErrNotFound):
		return KindNotFound
	default:
		return KindStore
	}
}
