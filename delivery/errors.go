package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingURL is returned when no webhook URL is configured.
	ErrMissingURL = errors.New("delivery: webhook url is not configured")

	// ErrTransport marks network failures and timeouts.
	ErrTransport = errors.New("delivery: transport error")

	// ErrUpstream marks non-2xx responses.
	ErrUpstream = errors.New("delivery: upstream error")

	// ErrDeliveryFailed is returned once every attempt has failed.
	ErrDeliveryFailed = errors.New("delivery: failed")
)

// AttemptError describes one failed attempt. It wraps ErrTransport or
// ErrUpstream.
type AttemptError struct {
	Attempt    int
	StatusCode int
	Kind       error
	Message    string
}

func (e *AttemptError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attempt %d: HTTP %d: %s", e.Attempt, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("attempt %d: %s", e.Attempt, e.Message)
}

func (e *AttemptError) Unwrap() error { return e.Kind }

// FailedError is returned by Send after the last attempt fails. It matches
// both ErrDeliveryFailed and the kind of the last attempt.
type FailedError struct {
	Attempts int
	Last     *AttemptError
}

func (e *FailedError) Error() string {
	msg := "unknown error"
	if e.Last != nil {
		msg = e.Last.Message
	}
	return fmt.Sprintf("Failed to send webhook after %d attempts: %s", e.Attempts, msg)
}

func (e *FailedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrDeliveryFailed}
	}
	return []error{ErrDeliveryFailed, e.Last}
}

// LastStatusCode returns the HTTP status of the last attempt, 0 for
// transport failures.
func (e *FailedError) LastStatusCode() int {
	if e.Last == nil {
		return 0
	}
	return e.Last.StatusCode
}
