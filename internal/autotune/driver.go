// Package autotune ticks the scheduler's adaptive controller on a schedule.
//
// The scheduler never runs its own control loop; this driver is the caller
// that decides the cadence.
package autotune

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

const stopTimeout = 5 * time.Second

// Ticker is the controller surface the driver needs.
type Ticker interface {
	Tick() throttle.Adjustment
}

// Driver runs Tick on a cron schedule. Overlapping ticks are skipped.
type Driver struct {
	target Ticker
	log    logx.Logger
	parser cron.Parser

	mu   sync.Mutex
	spec ParsedSpec
	c    *cron.Cron

	ticks   atomic.Uint64
	changes atomic.Uint64
	last    atomic.Pointer[throttle.Adjustment]
}

func New(schedule string, target Ticker, log logx.Logger) (*Driver, error) {
	if target == nil {
		return nil, fmt.Errorf("autotune: nil target")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Driver{
		target: target,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	spec, err := d.parse(schedule)
	if err != nil {
		return nil, err
	}
	d.spec = spec
	return d, nil
}

func (d *Driver) parse(schedule string) (ParsedSpec, error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := d.parser.Parse(spec.String()); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", spec.String(), err)
	}
	return spec, nil
}

// Start begins ticking. Calling Start on a running driver is a no-op.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return
	}
	d.startLocked()
}

func (d *Driver) startLocked() {
	cl := cronLogger{log: d.log}
	d.c = cron.New(cron.WithParser(d.parser), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := d.c.AddFunc(d.spec.String(), d.tick); err != nil {
		// parse() already validated the spec.
		d.log.Error("autotune schedule rejected", logx.String("schedule", d.spec.String()), logx.Err(err))
	}
	d.c.Start()
	d.log.Info("autotune started", logx.String("schedule", d.spec.String()), logx.String("source", d.spec.Source))
}

// Stop halts the schedule and waits for a running tick until ctx ends.
func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	d.log.Info("autotune stopped", logx.Uint64("ticks", d.ticks.Load()))
}

// Apply swaps the schedule, restarting the cron if it was running.
func (d *Driver) Apply(schedule string) error {
	spec, err := d.parse(schedule)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if spec == d.spec {
		return nil
	}
	d.spec = spec
	if d.c != nil {
		d.c.Stop()
		d.startLocked()
	}
	return nil
}

// Run starts the driver and blocks until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	d.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	d.Stop(stopCtx)
	return nil
}

func (d *Driver) tick() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in autotune tick", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	adj := d.target.Tick()
	d.ticks.Add(1)
	if adj.Changed() {
		d.changes.Add(1)
	}
	d.last.Store(&adj)
}

// Stats returns the number of ticks, how many changed a value, and the last adjustment.
func (d *Driver) Stats() (ticks, changes uint64, last throttle.Adjustment) {
	if p := d.last.Load(); p != nil {
		last = *p
	}
	return d.ticks.Load(), d.changes.Load(), last
}

// Spec returns the active schedule.
func (d *Driver) Spec() ParsedSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spec
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
