package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWriterLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("component", "throttle"))
	log.Info("task.completed", Int("attempts", 2), Duration("dur", 1500*time.Millisecond), Err(errors.New("x")))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if got["message"] != "task.completed" || got["component"] != "throttle" {
		t.Fatalf("unexpected entry: %v", got)
	}
	if got["attempts"] != float64(2) {
		t.Fatalf("attempts = %v", got["attempts"])
	}
	if got["err"] != "x" {
		t.Fatalf("err = %v", got["err"])
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", got["caller"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn entry missing: %q", buf.String())
	}
	if log.Enabled(zerolog.DebugLevel) {
		t.Fatal("debug should be disabled")
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	zero.Error("dropped")
	Nop().With(String("k", "v")).Warn("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestServiceFileSinkAndAlerts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacer.log")
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	var alerts bytes.Buffer
	svc.mu.Lock()
	svc.alertOut = &alerts
	svc.mu.Unlock()

	log.Info("written to file")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("file sink missing entry: %q", data)
	}
	if alerts.Len() != 0 {
		t.Fatal("alerts disabled but got output")
	}

	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}, Alerts: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 1}})
	log.Warn("below alert level")
	log.Error("first alert")
	log.Error("second alert dropped by limiter")
	out := alerts.String()
	if strings.Contains(out, "below alert level") {
		t.Fatalf("warn leaked into alerts: %q", out)
	}
	if !strings.Contains(out, "first alert") || strings.Contains(out, "second alert") {
		t.Fatalf("unexpected alert output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"trace":   zerolog.TraceLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
