// Package settings holds the named options that control delivery.
//
// Options are read through to the store on every access and fall back to
// documented defaults; nothing is cached in process. Writes go through Set,
// which validates and normalizes the value before storing it.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/flowbridge/gate"
)

// Option names.
const (
	WebhookURL        = "webhook_url"
	AllowedStatuses   = "allowed_statuses"
	AllowAllStatuses  = "allow_all_statuses"
	RetryAttempts     = "retry_attempts"
	RetryDelay        = "retry_delay"
	RequestTimeout    = "request_timeout"
	LoggingEnabled    = "logging_enabled"
	LogLevel          = "log_level"
	DebugOutputMethod = "debug_output_method"
	ContextPrefix     = "context_prefix"
	ForceResend       = "force_resend"
	WebhookSecret     = "webhook_secret"
	RateLimit         = "rate_limit"
)

// Debug output methods.
const (
	OutputConsole   = "console"
	OutputAdminPage = "admin_page"
	OutputBoth      = "both"
)

var (
	ErrUnknownOption = errors.New("settings: unknown option")
	ErrInvalidValue  = errors.New("settings: invalid value")
)

// Store persists named options.
type Store interface {
	GetOption(ctx context.Context, name string) (any, bool, error)
	SetOption(ctx context.Context, name string, value any) error
	ListOptions(ctx context.Context) (map[string]any, error)
}

// Settings reads and writes named options.
type Settings struct {
	store Store
}

// New returns Settings backed by store.
func New(store Store) *Settings {
	return &Settings{store: store}
}

// Get returns the stored value of name, or its default when unset or when
// the stored value no longer validates.
func (s *Settings) Get(ctx context.Context, name string) (any, error) {
	def, ok := definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}

	v, found, err := s.store.GetOption(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("settings: get %s: %w", name, err)
	}
	return def.resolve(v, found)
}

// Set validates value and stores its normalized form.
func (s *Settings) Set(ctx context.Context, name string, value any) error {
	def, ok := definitions[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	norm, err := def.normalize(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, name, err)
	}
	if err := s.store.SetOption(ctx, name, norm); err != nil {
		return fmt.Errorf("settings: set %s: %w", name, err)
	}
	return nil
}

// Validate reports whether value is acceptable for name without storing it.
func Validate(name string, value any) error {
	def, ok := definitions[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if _, err := def.normalize(value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, name, err)
	}
	return nil
}

// All returns every option, stored values overlaying defaults.
func (s *Settings) All(ctx context.Context) (map[string]any, error) {
	stored, err := s.store.ListOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}

	out := make(map[string]any, len(definitions))
	for name, def := range definitions {
		v, found := stored[name]
		if out[name], err = def.resolve(v, found); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Seed stores each known value in values whose option is not yet set. It
// returns the number of options written.
func (s *Settings) Seed(ctx context.Context, values map[string]any) (int, error) {
	written := 0
	for _, name := range Names() {
		v, ok := values[name]
		if !ok {
			continue
		}
		_, found, err := s.store.GetOption(ctx, name)
		if err != nil {
			return written, fmt.Errorf("settings: seed %s: %w", name, err)
		}
		if found {
			continue
		}
		if err := s.Set(ctx, name, v); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Values is a typed view of all options, read once per event.
type Values struct {
	WebhookURL        string        `json:"webhook_url"`
	AllowedStatuses   []int         `json:"allowed_statuses"`
	AllowAllStatuses  bool          `json:"allow_all_statuses"`
	RetryAttempts     int           `json:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	LoggingEnabled    bool          `json:"logging_enabled"`
	LogLevel          string        `json:"log_level"`
	DebugOutputMethod string        `json:"debug_output_method"`
	ContextPrefix     string        `json:"context_prefix"`
	ForceResend       bool          `json:"force_resend"`
	WebhookSecret     string        `json:"-"`
	RateLimit         int           `json:"rate_limit"`
}

// Load reads every option into a Values.
func (s *Settings) Load(ctx context.Context) (Values, error) {
	all, err := s.All(ctx)
	if err != nil {
		return Values{}, err
	}
	return Values{
		WebhookURL:        all[WebhookURL].(string),
		AllowedStatuses:   all[AllowedStatuses].([]int),
		AllowAllStatuses:  all[AllowAllStatuses].(bool),
		RetryAttempts:     all[RetryAttempts].(int),
		RetryDelay:        time.Duration(all[RetryDelay].(int)) * time.Second,
		RequestTimeout:    time.Duration(all[RequestTimeout].(int)) * time.Second,
		LoggingEnabled:    all[LoggingEnabled].(bool),
		LogLevel:          all[LogLevel].(string),
		DebugOutputMethod: all[DebugOutputMethod].(string),
		ContextPrefix:     all[ContextPrefix].(string),
		ForceResend:       all[ForceResend].(bool),
		WebhookSecret:     all[WebhookSecret].(string),
		RateLimit:         all[RateLimit].(int),
	}, nil
}

// Policy returns the gate policy described by v.
func (v Values) Policy(maxRechecks int) gate.Policy {
	return gate.Policy{
		AllowedStatuses: v.AllowedStatuses,
		AllowAll:        v.AllowAllStatuses,
		ForceResend:     v.ForceResend,
		MaxRechecks:     maxRechecks,
	}
}

// LogsConsole reports whether payloads should be written to the log.
func (v Values) LogsConsole() bool {
	return v.DebugOutputMethod == OutputConsole || v.DebugOutputMethod == OutputBoth
}

// Names returns all option names in sorted order.
func Names() []string {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the default value of name.
func Default(name string) (any, bool) {
	def, ok := definitions[name]
	if !ok {
		return nil, false
	}
	return def.Default, true
}
