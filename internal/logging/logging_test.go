package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"DEBUG":  zerolog.DebugLevel,
		"debug":  zerolog.DebugLevel,
		"WARN":   zerolog.WarnLevel,
		"ERROR":  zerolog.ErrorLevel,
		"INFO":   zerolog.InfoLevel,
		"":       zerolog.InfoLevel,
		"bogus":  zerolog.InfoLevel,
		"  warn": zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)
	logger.Info().Str("mapping_id", "orders").Msg("starting mapping")

	out := buf.String()
	if !strings.Contains(out, `"mapping_id":"orders"`) {
		t.Errorf("expected structured field in log line, got: %s", out)
	}
	if !strings.Contains(out, `"message":"starting mapping"`) {
		t.Errorf("expected message field in log line, got: %s", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.WarnLevel)
	logger.Info().Msg("should be suppressed")
	logger.Warn().Msg("should appear")

	out := buf.String()
	if strings.Contains(out, "should be suppressed") {
		t.Errorf("expected INFO line to be suppressed at WARN level")
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("expected WARN line to appear")
	}
}

func TestOpenLogFileCreatesAndAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.log")

	f1, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	if _, err := f1.WriteString("first\n"); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	f1.Close()

	f2, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("failed to reopen log file: %v", err)
	}
	if _, err := f2.WriteString("second\n"); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	f2.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("expected appended content, got: %q", string(data))
	}
}
