package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  preset: moderate
  delay: 2s
  rate_limit_jitter: 0s
  controller:
    max_concurrency: 6
autotune:
  enabled: true
  schedule: "@every 30s"
journal:
  driver: file
  path: ./journal
status:
  interval: 10s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDecodeYAMLResolvesPresetAndOverrides(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("pacer.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Autotune.Enabled || cfg.Journal == nil || cfg.Journal.Driver != "file" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	tc, err := cfg.Scheduler.Throttle()
	if err != nil {
		t.Fatalf("Throttle: %v", err)
	}
	moderate, _ := Preset(PresetModerate)
	if tc.MaxConcurrent != moderate.MaxConcurrent || tc.BurstLimit != moderate.BurstLimit {
		t.Fatalf("preset not applied: %+v", tc)
	}
	if tc.Delay != 2*time.Second {
		t.Fatalf("Delay = %v, want override 2s", tc.Delay)
	}
	if tc.RateLimitJitter != -1 {
		t.Fatalf("RateLimitJitter = %v, want -1 for explicit 0s", tc.RateLimitJitter)
	}
	if tc.Controller.MaxConcurrency != 6 {
		t.Fatalf("Controller.MaxConcurrency = %d", tc.Controller.MaxConcurrency)
	}
	if err := Validate(context.Background(), cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "json", path: "c.json", body: `{"scheduler":{"workers":3}}`},
		{name: "yaml", path: "c.yml", body: "scheduler:\n  workers: 3\n"},
		{name: "trailing", path: "c.json", body: `{} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestDecodeSniffsFormatWithoutExtension(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("pacerrc", []byte("scheduler:\n  max_concurrent: 4\n"))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 4 {
		t.Fatalf("MaxConcurrent = %d", cfg.Scheduler.MaxConcurrent)
	}
	cfg, err = Decode("pacerrc", []byte(`{"scheduler":{"max_concurrent":5}}`))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 5 {
		t.Fatalf("MaxConcurrent = %d", cfg.Scheduler.MaxConcurrent)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "preset", cfg: Config{Scheduler: SchedulerConfig{Preset: "reckless"}}, want: "unknown preset"},
		{name: "delay", cfg: Config{Scheduler: SchedulerConfig{Delay: "soon"}}, want: "scheduler.delay"},
		{name: "negative", cfg: Config{Scheduler: SchedulerConfig{TimeWindow: "-1s"}}, want: "must be >= 0"},
		{name: "controller", cfg: Config{Scheduler: SchedulerConfig{Controller: ControllerConfig{MinConcurrency: 5, MaxConcurrency: 2}}}, want: "min_concurrency"},
		{name: "autotune", cfg: Config{Autotune: AutotuneConfig{Enabled: true}}, want: "autotune.schedule"},
		{name: "journal driver", cfg: Config{Journal: &JournalConfig{Driver: "mongo"}}, want: "unknown driver"},
		{name: "redis addr", cfg: Config{Journal: &JournalConfig{Driver: "redis"}}, want: "redis_addr"},
		{name: "status", cfg: Config{Status: StatusConfig{Interval: "x"}}, want: "status.interval"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(context.Background(), &tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestPresetLookup(t *testing.T) {
	t.Parallel()
	p, err := Preset(" Conservative ")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if p.MaxConcurrent != 1 {
		t.Fatalf("conservative MaxConcurrent = %d", p.MaxConcurrent)
	}
	all := Presets()
	all[PresetAggressive] = p
	if again, _ := Preset(PresetAggressive); again.MaxConcurrent == 1 {
		t.Fatal("Presets() must return a copy")
	}
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "pacer.json", `{"scheduler":{"max_concurrent":2}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file should not publish")
	}

	if err := os.WriteFile(path, []byte(`{"scheduler":{"max_concurrent":4}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.reload(context.Background()) {
		t.Fatal("expected publish after change")
	}
	select {
	case cfg := <-ch:
		if cfg.Scheduler.MaxConcurrent != 4 {
			t.Fatalf("published MaxConcurrent = %d", cfg.Scheduler.MaxConcurrent)
		}
	default:
		t.Fatal("nothing published")
	}

	if err := os.WriteFile(path, []byte(`{"scheduler":{"preset":"nope"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatal("invalid config must not publish")
	}
	if got := m.Get().Scheduler.MaxConcurrent; got != 4 {
		t.Fatalf("committed config changed to %d after rejected reload", got)
	}
}

func TestManagerWatchPicksUpWrites(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "pacer.yaml", "scheduler:\n  max_concurrent: 1\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	deadline := time.After(8 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	n := 2
	for {
		select {
		case cfg := <-ch:
			if cfg.Scheduler.MaxConcurrent < 2 {
				t.Fatalf("unexpected published config %+v", cfg.Scheduler)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees a change.
			body := "scheduler:\n  max_concurrent: " + string(rune('0'+n)) + "\n"
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if n < 9 {
				n++
			}
		case <-deadline:
			t.Fatal("watcher never published a reload")
		}
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{Journal: &JournalConfig{Driver: "redis", RedisAddr: "localhost:6379", RedisPassword: "hunter2"}}
	sections, attrs := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 1 || sections[0] != "journal" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	if got := DurationOr("", time.Second); got != time.Second {
		t.Fatalf("empty = %v", got)
	}
	if got := DurationOr("bad", time.Second); got != time.Second {
		t.Fatalf("invalid = %v", got)
	}
	if got := DurationOr("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("parsed = %v", got)
	}
}
