package autotune

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   SpecKind
		source string
		every  time.Duration
		str    string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", str: "*/5 * * * *"},
		{name: "descriptor", raw: "@every 30s", kind: SpecCron, source: "cron", str: "@every 30s"},
		{name: "prefixed cron", raw: "CRON: 0 * * * *", kind: SpecCron, source: "cron", str: "0 * * * *"},
		{name: "duration", raw: "45s", kind: SpecInterval, source: "duration", every: 45 * time.Second, str: "@every 45s"},
		{name: "prefixed interval", raw: "every:2m", kind: SpecInterval, source: "duration", every: 2 * time.Minute, str: "@every 2m0s"},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", every: 90 * time.Minute, str: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got kind=%v source=%s, want kind=%v source=%s", got.Kind, got.Source, tt.kind, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.String() != tt.str {
				t.Fatalf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "00:00", "01:75", "-5s", "cron:", "every:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", raw)
		}
	}
}

type countingTicker struct{ n atomic.Int32 }

func (c *countingTicker) Tick() throttle.Adjustment {
	c.n.Add(1)
	return throttle.Adjustment{FromConcurrency: 2, ToConcurrency: 3}
}

func TestNewRejectsBadCron(t *testing.T) {
	t.Parallel()
	if _, err := New("61 * * * *", &countingTicker{}, logx.Nop()); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}
	if _, err := New("@every 1s", nil, logx.Nop()); err == nil {
		t.Fatal("expected nil target to be rejected")
	}
}

func TestDriverTicksAndStops(t *testing.T) {
	t.Parallel()
	target := &countingTicker{}
	d, err := New("1s", target, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for target.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("driver never ticked")
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	ticks, changes, last := d.Stats()
	if ticks == 0 || changes != ticks || last.ToConcurrency != 3 {
		t.Fatalf("Stats = %d, %d, %+v", ticks, changes, last)
	}

	after := target.n.Load()
	time.Sleep(1200 * time.Millisecond)
	if target.n.Load() != after {
		t.Fatal("driver ticked after stop")
	}
}

func TestApplySwapsSchedule(t *testing.T) {
	t.Parallel()
	d, err := New("@every 1h", &countingTicker{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Apply("nope"); err == nil {
		t.Fatal("expected Apply to reject bad schedule")
	}
	if err := d.Apply("00:10"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := d.Spec(); got.Every != 10*time.Minute {
		t.Fatalf("Spec = %+v", got)
	}
}
