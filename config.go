package flowbridge

import (
	"time"

	"github.com/xraph/flowbridge/payload"
)

// Config holds the process-level configuration of a Bridge. Delivery
// settings that operators change at runtime live in the settings package.
type Config struct {
	// RecordType is the host record type the bridge tracks. Empty means the
	// booking integration is unavailable.
	RecordType string

	// EventName is the event tag written into every payload.
	EventName string

	// EventIDPrefix is joined with the record id to form event_id.
	EventIDPrefix string

	// RecheckDelay is how long after an incomplete save the record is
	// evaluated again.
	RecheckDelay time.Duration

	// MaxRechecks caps the deferred re-checks per record before the record
	// is dead-lettered.
	MaxRechecks int

	// PollInterval is how often the scheduler claims due re-checks.
	PollInterval time.Duration

	// BatchSize is the maximum number of re-checks claimed per poll.
	BatchSize int

	// ShutdownTimeout is the maximum time to wait for a running re-check on
	// shutdown.
	ShutdownTimeout time.Duration
}

// DefaultRecordType is the post type of the car rental booking plugin.
const DefaultRecordType = "crbs_booking"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecordType:      DefaultRecordType,
		EventName:       payload.DefaultEvent,
		EventIDPrefix:   payload.DefaultEventIDPrefix,
		RecheckDelay:    5 * time.Second,
		MaxRechecks:     2,
		PollInterval:    1 * time.Second,
		BatchSize:       10,
		ShutdownTimeout: 30 * time.Second,
	}
}
