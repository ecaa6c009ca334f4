package settings_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/xraph/flowbridge/settings"
	"github.com/xraph/flowbridge/store/memory"
)

func ctx() context.Context { return context.Background() }

func TestDefaults(t *testing.T) {
	s := settings.New(memory.New())

	v, err := s.Load(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if v.WebhookURL != "" || v.AllowAllStatuses || v.ForceResend {
		t.Fatalf("unexpected defaults %+v", v)
	}
	if !reflect.DeepEqual(v.AllowedStatuses, []int{2, 4}) {
		t.Fatalf("expected allowed [2 4], got %v", v.AllowedStatuses)
	}
	if v.RetryAttempts != 3 || v.RetryDelay != 5*time.Second || v.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected retry defaults %+v", v)
	}
	if !v.LoggingEnabled || v.LogLevel != "info" || v.ContextPrefix != "crbs" {
		t.Fatalf("unexpected logging defaults %+v", v)
	}
	if !v.LogsConsole() {
		t.Fatal("console output is the default")
	}
}

func TestSetNormalizes(t *testing.T) {
	s := settings.New(memory.New())

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{settings.AllowedStatuses, "4, 2,2", []int{2, 4}},
		{settings.AllowedStatuses, []any{"7", 1}, []int{1, 7}},
		{settings.AllowAllStatuses, "true", true},
		{settings.RetryAttempts, " 5 ", 5},
		{settings.LogLevel, "WARN", "warning"},
		{settings.WebhookURL, " https://flow.zoho.com/hook ", "https://flow.zoho.com/hook"},
		{settings.DebugOutputMethod, "both", "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(ctx(), tt.name, tt.value); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx(), tt.name)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSetRejects(t *testing.T) {
	s := settings.New(memory.New())

	tests := []struct {
		name  string
		value any
	}{
		{settings.WebhookURL, "ftp://x"},
		{settings.RetryAttempts, 0},
		{settings.RetryDelay, 9999},
		{settings.LogLevel, "verbose"},
		{settings.DebugOutputMethod, "email"},
		{settings.AllowedStatuses, "2,-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(ctx(), tt.name, tt.value); !errors.Is(err, settings.ErrInvalidValue) {
				t.Fatalf("expected ErrInvalidValue, got %v", err)
			}
		})
	}

	if err := s.Set(ctx(), "bogus", 1); !errors.Is(err, settings.ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if err := settings.Validate(settings.LogLevel, "debug"); err != nil {
		t.Fatalf("expected valid level, got %v", err)
	}
}

func TestCorruptStoredValueReadsDefault(t *testing.T) {
	store := memory.New()
	_ = store.SetOption(ctx(), settings.RetryAttempts, "many")

	got, err := settings.New(store).Get(ctx(), settings.RetryAttempts)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("expected default 3, got %v", got)
	}
}

func TestReadThrough(t *testing.T) {
	store := memory.New()
	s := settings.New(store)

	if v, _ := s.Get(ctx(), settings.RetryDelay); v != 5 {
		t.Fatalf("expected 5, got %v", v)
	}
	// Writes made behind the Settings value are seen on the next read.
	_ = store.SetOption(ctx(), settings.RetryDelay, 10)
	if v, _ := s.Get(ctx(), settings.RetryDelay); v != 10 {
		t.Fatalf("expected 10, got %v", v)
	}
}

func TestDefaultsNotShared(t *testing.T) {
	s := settings.New(memory.New())

	v, _ := s.Load(ctx())
	v.AllowedStatuses[0] = 99

	again, _ := s.Load(ctx())
	if again.AllowedStatuses[0] != 2 {
		t.Fatal("mutating a loaded value changed the default")
	}
}

func TestSeed(t *testing.T) {
	store := memory.New()
	s := settings.New(store)
	_ = s.Set(ctx(), settings.RetryAttempts, 7)

	n, err := s.Seed(ctx(), map[string]any{
		settings.RetryAttempts: 2,
		settings.WebhookURL:    "https://hook.example.com",
		"unknown":              true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 option seeded, got %d", n)
	}
	if v, _ := s.Get(ctx(), settings.RetryAttempts); v != 7 {
		t.Fatalf("seed must not overwrite, got %v", v)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	data := []byte("webhook_url: https://hook.example.com\nretry_attempts: 4\nallowed_statuses: [2, 4, 5]\nunrelated: x\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWBRIDGE_LOG_LEVEL", "debug")

	values, err := settings.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if values[settings.WebhookURL] != "https://hook.example.com" {
		t.Fatalf("unexpected webhook_url %v", values[settings.WebhookURL])
	}
	if values[settings.LogLevel] != "debug" {
		t.Fatalf("expected env override, got %v", values[settings.LogLevel])
	}
	if _, ok := values["unrelated"]; ok {
		t.Fatal("unknown keys must be dropped")
	}

	s := settings.New(memory.New())
	if _, err := s.Seed(ctx(), values); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx(), settings.AllowedStatuses)
	if !reflect.DeepEqual(got, []int{2, 4, 5}) {
		t.Fatalf("expected [2 4 5], got %v", got)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := settings.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
