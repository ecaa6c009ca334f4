// Package payload builds the canonical booking event sent to the automation
// endpoint.
package payload

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultEvent is the event tag of a booking payload.
	DefaultEvent = "crbs.booking.created"

	// DefaultEventIDPrefix prefixes the record id to form event_id.
	DefaultEventIDPrefix = "crbs"
)

// Payload is the fixed-shape event body. Field order here is the wire order.
type Payload struct {
	Event     string   `json:"event"`
	EventID   string   `json:"event_id"`
	BookingID int64    `json:"booking_id"`
	StatusID  int      `json:"status_id"`
	Customer  Customer `json:"customer"`
	Booking   Booking  `json:"booking"`
	Vehicle   Vehicle  `json:"vehicle"`
	Invoice   Invoice  `json:"invoice"`

	// Extra holds fields added by filters.
	Extra map[string]any `json:"extra,omitempty"`
}

// Customer identifies who made the booking.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Booking holds the pickup and return schedule as stored by the host.
type Booking struct {
	PickupDatetime string `json:"pickup_datetime"`
	ReturnDatetime string `json:"return_datetime"`
	PickupLocation string `json:"pickup_location"`
	ReturnLocation string `json:"return_location"`
}

// Vehicle is the rented car.
type Vehicle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Invoice carries the billing data. It always has exactly one line item
// for the booking total.
type Invoice struct {
	Currency  string     `json:"currency"`
	LineItems []LineItem `json:"line_items"`
	Notes     string     `json:"notes"`
}

// LineItem is one invoice line. Rate may be negative for refunds and
// adjustments.
type LineItem struct {
	Name string  `json:"name"`
	Qty  int     `json:"qty"`
	Rate float64 `json:"rate"`
}

// Total returns the sum of qty × rate over all line items.
func (p *Payload) Total() float64 {
	var total float64
	for _, li := range p.Invoice.LineItems {
		total += float64(li.Qty) * li.Rate
	}
	return total
}

// Pretty returns the payload as indented JSON, the form kept for viewers.
func Pretty(p *Payload) (string, error) {
	b, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return "", fmt.Errorf("%w: pretty: %w", ErrInvalid, err)
	}
	return string(b), nil
}

// Decode converts a stored snapshot back into a Payload. Stores hand back
// either the original value, a JSON string, raw bytes or a generic map.
func Decode(v any) (*Payload, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil, nil //nolint:nilnil // no snapshot
	case *Payload:
		return t, nil
	case Payload:
		return &t, nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	case json.RawMessage:
		raw = t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("payload: decode: %w", err)
		}
		raw = b
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	return &p, nil
}
