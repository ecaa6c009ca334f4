package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelLoggerFilters(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := LevelLogger(base, true, "warning").With("record_id", 42)
	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "record_id=42") {
		t.Fatalf("warn record missing: %s", out)
	}
}

func TestLevelLoggerDisabled(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	l := LevelLogger(base, false, "debug")
	l.Error("nothing")

	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("disabled logger should report not enabled")
	}
}
