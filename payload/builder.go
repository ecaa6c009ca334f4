package payload

import (
	"fmt"
	"strings"

	"github.com/xraph/flowbridge/extract"
	"github.com/xraph/flowbridge/record"
)

// Filter post-processes a built payload. It receives the record id and the
// raw record and returns the payload to use; returning nil keeps the input.
type Filter interface {
	Filter(p *Payload, recordID int64, raw *record.Record) *Payload
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(p *Payload, recordID int64, raw *record.Record) *Payload

// Filter implements Filter.
func (f FilterFunc) Filter(p *Payload, recordID int64, raw *record.Record) *Payload {
	return f(p, recordID, raw)
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEvent overrides the event tag.
func WithEvent(tag string) BuilderOption {
	return func(b *Builder) { b.event = tag }
}

// WithEventIDPrefix overrides the prefix used to derive event_id.
func WithEventIDPrefix(prefix string) BuilderOption {
	return func(b *Builder) { b.idPrefix = prefix }
}

// WithFilter appends a filter. Filters run in registration order.
func WithFilter(f Filter) BuilderOption {
	return func(b *Builder) { b.filters = append(b.filters, f) }
}

// Builder assembles payloads from records. It performs no I/O.
type Builder struct {
	event    string
	idPrefix string
	filters  []Filter
}

// NewBuilder returns a Builder with the default event tag.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{event: DefaultEvent, idPrefix: DefaultEventIDPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the payload for rec under the given context prefix.
func (b *Builder) Build(rec *record.Record, prefix string) *Payload {
	p, _ := b.BuildWithTrace(rec, prefix)
	return p
}

// BuildWithTrace is Build plus the per-field resolution trace.
func (b *Builder) BuildWithTrace(rec *record.Record, prefix string) (*Payload, []extract.Resolution) {
	if rec == nil {
		rec = &record.Record{}
	}
	recordID := rec.ID
	e := extract.New(rec.Meta, prefix)

	name := strings.TrimSpace(strings.TrimSpace(e.String(extract.FirstName)) + " " + strings.TrimSpace(e.String(extract.LastName)))

	p := &Payload{
		Event:     b.event,
		EventID:   fmt.Sprintf("%s_%d", b.idPrefix, recordID),
		BookingID: recordID,
		StatusID:  e.Int(extract.StatusID),
		Customer: Customer{
			Name:  name,
			Email: e.String(extract.Email),
			Phone: e.String(extract.Phone),
		},
		Booking: Booking{
			PickupDatetime: e.String(extract.PickupDatetime),
			ReturnDatetime: e.String(extract.ReturnDatetime),
			PickupLocation: e.String(extract.PickupLocation),
			ReturnLocation: e.String(extract.ReturnLocation),
		},
		Vehicle: Vehicle{
			ID:   e.String(extract.VehicleID),
			Name: e.String(extract.VehicleName),
		},
		Invoice: Invoice{
			Currency: e.String(extract.Currency),
			LineItems: []LineItem{{
				Name: fmt.Sprintf("Car Rental Booking #%d", recordID),
				Qty:  1,
				Rate: e.Price(),
			}},
			Notes: fmt.Sprintf("CRBS Booking #%d", recordID),
		},
	}

	for _, f := range b.filters {
		if out := f.Filter(p, recordID, rec.Clone()); out != nil {
			p = out
		}
	}
	return p, e.Trace()
}
