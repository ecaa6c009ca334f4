package extract

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/xraph/flowbridge/record"
)

var financialKey = regexp.MustCompile(`(?i)price|total|amount|cost|sum|payment|fee|charge|rental`)

// Resolution describes how a single field was resolved.
type Resolution struct {
	Field      string   `json:"field"`
	Considered []string `json:"considered"`
	Chosen     string   `json:"chosen,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
}

// Extractor reads fields from one record's metadata. It never writes and
// never fails: unresolved fields yield their default.
type Extractor struct {
	meta   record.Meta
	prefix string
	trace  []Resolution
}

// New returns an Extractor over meta using the given context prefix.
func New(meta record.Meta, prefix string) *Extractor {
	return &Extractor{meta: meta, prefix: prefix}
}

// Prefix returns the context prefix in use.
func (e *Extractor) Prefix() string { return e.prefix }

// Trace returns the resolutions recorded so far, in lookup order.
func (e *Extractor) Trace() []Resolution {
	out := make([]Resolution, len(e.trace))
	copy(out, e.trace)
	return out
}

// Resolve returns the first present candidate value for f.
func (e *Extractor) Resolve(f Field) (any, bool) {
	res := Resolution{Field: f.Name}
	defer func() { e.trace = append(e.trace, res) }()

	for _, key := range f.Candidates(e.prefix) {
		res.Considered = append(res.Considered, key)
		if v, ok := e.meta.Lookup(key); ok {
			res.Chosen = key
			return v, true
		}
	}
	return f.Default, false
}

// String resolves f as a string. An empty result falls back to the default.
func (e *Extractor) String(f Field) string {
	v, _ := e.Resolve(f)
	s := cast.ToString(v)
	if s == "" && f.Default != nil {
		return cast.ToString(f.Default)
	}
	return s
}

// Int resolves f as an integer, 0 when the value is not numeric.
func (e *Extractor) Int(f Field) int {
	v, _ := e.Resolve(f)
	return toInt(v)
}

// Float resolves f as a number, 0 when the value is not numeric.
func (e *Extractor) Float(f Field) float64 {
	v, _ := e.Resolve(f)
	return toFloat(v)
}

// Price resolves the booking total. When the primary price is zero it tries
// the ordered Totals keys and then scans every metadata key that looks
// financial, keys carrying the context prefix first, in sorted order. The
// first non-zero value wins. The result is best effort.
func (e *Extractor) Price() float64 {
	if v := e.Float(Price); v != 0 {
		return v
	}

	res := Resolution{Field: Price.Name, Fallback: true}
	defer func() { e.trace = append(e.trace, res) }()

	seen := make(map[string]bool)
	for _, k := range Price.Candidates(e.prefix) {
		seen[k] = true
	}

	try := func(key string) (float64, bool) {
		seen[key] = true
		res.Considered = append(res.Considered, key)
		v, ok := e.meta.Lookup(key)
		if !ok {
			return 0, false
		}
		if f := toFloat(v); f != 0 {
			res.Chosen = key
			return f, true
		}
		return 0, false
	}

	for _, k := range (Field{Key: Totals[0], Aliases: Totals[1:]}).Candidates(e.prefix) {
		if f, ok := try(k); ok {
			return f
		}
	}

	for _, k := range e.scanKeys(seen) {
		if f, ok := try(k); ok {
			return f
		}
	}
	return 0
}

// scanKeys lists unvisited financial-looking keys, prefixed keys first.
// Keys starting with an underscore are private to the host or the bridge.
func (e *Extractor) scanKeys(seen map[string]bool) []string {
	var prefixed, bare []string
	for k := range e.meta {
		if seen[k] || strings.HasPrefix(k, "_") || !financialKey.MatchString(k) {
			continue
		}
		if e.prefix != "" && strings.HasPrefix(k, e.prefix+"_") {
			prefixed = append(prefixed, k)
		} else {
			bare = append(bare, k)
		}
	}
	sort.Strings(prefixed)
	sort.Strings(bare)
	return append(prefixed, bare...)
}

// HasMinimumFields reports whether at least one of pickup date, price or
// vehicle id can be resolved. Records lacking all three were most likely
// read before the host finished persisting them.
func HasMinimumFields(meta record.Meta, prefix string) bool {
	e := New(meta, prefix)
	if e.String(PickupDatetime) != "" {
		return true
	}
	if e.Price() != 0 {
		return true
	}
	return e.String(VehicleID) != ""
}

// toFloat converts v to a finite number. NaN and infinities count as not
// numeric, the way loosely typed hosts coerce them to 0.
func toFloat(v any) float64 {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toInt(v any) int {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	switch v.(type) {
	case float32, float64:
		return int(toFloat(v))
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return int(toFloat(v))
	}
	return i
}
