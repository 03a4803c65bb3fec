// Package app wires config, logging, the scheduler and its satellites
// (journal, autotune, status reporting) into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"

	"pacer/internal/autotune"
	"pacer/internal/config"
	"pacer/internal/eventbus"
	"pacer/internal/fetch"
	"pacer/internal/journal"
	"pacer/internal/runtime/supervisor"
	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

// journalCatchUp bounds how long Run waits for the recorder before reading
// the journal summary.
const journalCatchUp = 3 * time.Second

type App struct {
	cfgm    *config.Manager
	applied *config.Config
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sched  *throttle.Scheduler[fetch.Page]
	client *fetch.Client
	store  journal.Store
	rec    *journal.Recorder
	tune   *autotune.Driver
}

// Report summarizes one Run.
type Report struct {
	Submitted int
	Succeeded int
	Failed    int
	Bytes     uint64
	Elapsed   time.Duration
	// Journal is read once the recorder has consumed this run's settle
	// events. It can still undercount when the event bus dropped deliveries
	// (JournalLagged is set then).
	Journal       *journal.Summary
	JournalLagged bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	tc, err := cfg.Scheduler.Throttle()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	sched := throttle.New[fetch.Page](tc, log.With(logx.String("comp", "scheduler")), bus)

	a := &App{
		cfgm:    cfgm,
		applied: cfg,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		sched:   sched,
		client:  newFetchClient(cfg),
	}

	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		a.abort()
		return nil, err
	} else if enabled {
		st, err := journal.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			a.abort()
			return nil, err
		}
		a.store = st
		a.rec = journal.NewRecorder(st, bus, log.With(logx.String("comp", "journal")))
		a.log.Info("journal enabled", logx.String("driver", jc.Driver))
	}

	if cfg.Autotune.Enabled {
		d, err := autotune.New(cfg.Autotune.Schedule, sched, log.With(logx.String("comp", "autotune")))
		if err != nil {
			a.abort()
			return nil, fmt.Errorf("autotune.schedule: %w", err)
		}
		a.tune = d
	}
	return a, nil
}

func newFetchClient(cfg *config.Config) *fetch.Client {
	return fetch.New(fetch.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      config.DurationOr(cfg.Fetch.Timeout, fetch.DefaultTimeout),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
}

func (a *App) abort() {
	_ = a.sched.Close(context.Background())
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

func (a *App) Scheduler() *throttle.Scheduler[fetch.Page] { return a.sched }

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the background loops: config watch and reload fan-out,
// journal recorder, autotune driver and status reporter.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, a.log.With(logx.String("comp", "supervisor")))

	restart := supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: 30 * time.Second}
	a.sup.GoRestart("config.watch", a.cfgm.Watch, restart)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(next)
			}
		}
	})

	if a.rec != nil {
		a.sup.Go("journal.recorder", a.rec.Run)
	}
	if a.tune != nil {
		a.sup.Go("autotune", a.tune.Run)
	}
	a.sup.Go("status.report", a.statusLoop)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig pushes the sections that changed since the last applied config
// into the live components. An untouched scheduler section keeps whatever the
// controller has tuned. Journal and fetch settings take effect on the next start.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	sections, attrs := config.SummarizeChange(a.applied, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	changed := make(map[string]bool, len(sections))
	for _, name := range sections {
		changed[name] = true
	}

	if changed["logging"] {
		a.logs.Apply(cfg.LogxConfig())
	}

	if changed["scheduler"] {
		tc, err := cfg.Scheduler.Throttle()
		if err != nil {
			a.log.Warn("scheduler config rejected", logx.Err(err))
		} else {
			a.sched.Apply(tc)
		}
	}

	if changed["autotune"] {
		switch {
		case a.tune != nil && cfg.Autotune.Enabled:
			if err := a.tune.Apply(cfg.Autotune.Schedule); err != nil {
				a.log.Warn("autotune schedule rejected", logx.Err(err))
			} else {
				a.tune.Start()
			}
		case a.tune != nil && !cfg.Autotune.Enabled:
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			a.tune.Stop(stopCtx)
			cancel()
		case a.tune == nil && cfg.Autotune.Enabled:
			a.log.Warn("autotune enabled by reload; restart to apply")
		}
	}

	if changed["journal"] || changed["fetch"] {
		a.log.Warn("journal and fetch changes apply on restart")
	}

	a.applied = cfg
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Run submits every target, waits until the scheduler is idle, and returns
// a summary. Failures are logged per URL and never abort the run.
func (a *App) Run(ctx context.Context, targets []Target) (Report, error) {
	start := time.Now()
	var handledBefore uint64
	if a.rec != nil {
		handledBefore = a.rec.Handled()
	}
	futures := make([]*throttle.Future[fetch.Page], 0, len(targets))
	rep := Report{}
	for _, t := range targets {
		task := a.client.Task(t.URL, t.Priority)
		task.Metadata = map[string]string{"source": "cli"}
		f, err := a.sched.Submit(task)
		if err != nil {
			return rep, fmt.Errorf("submit %s: %w", t.URL, err)
		}
		futures = append(futures, f)
	}
	rep.Submitted = len(futures)
	a.log.Info("targets submitted", logx.Int("count", rep.Submitted))

	if err := a.sched.OnIdle(ctx); err != nil {
		return rep, err
	}

	for i, f := range futures {
		page, err, ok := f.Result()
		if !ok {
			continue
		}
		if err != nil {
			rep.Failed++
			a.log.Warn("fetch failed",
				logx.String("url", targets[i].URL),
				logx.Int("attempts", f.Attempts()),
				logx.Err(err),
			)
			continue
		}
		rep.Succeeded++
		rep.Bytes += uint64(len(page.Body))
		a.log.Debug("fetched",
			logx.String("url", page.URL),
			logx.Int("status", page.StatusCode),
			logx.String("size", humanize.Bytes(uint64(len(page.Body)))),
			logx.Duration("elapsed", page.Elapsed),
		)
	}
	rep.Elapsed = time.Since(start)

	if a.store != nil {
		if a.rec != nil {
			wctx, cancel := context.WithTimeout(ctx, journalCatchUp)
			if err := a.rec.WaitHandled(wctx, handledBefore+uint64(len(futures))); err != nil {
				rep.JournalLagged = true
				a.log.Warn("journal behind run; summary may undercount",
					logx.Uint64("dropped_events", eventbus.Dropped(a.bus)))
			}
			cancel()
		}
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		sum, err := a.store.Summary(sctx)
		cancel()
		if err != nil {
			a.log.Warn("journal summary failed", logx.Err(err))
		} else {
			rep.Journal = &sum
		}
	}

	fields := []logx.Field{
		logx.Int("submitted", rep.Submitted),
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.String("bytes", humanize.Bytes(rep.Bytes)),
		logx.Duration("elapsed", rep.Elapsed),
	}
	if rep.Journal != nil {
		fields = append(fields, logx.Int64("journal_total", rep.Journal.Total))
	}
	a.log.Info("run complete", fields...)
	return rep, nil
}

// Stop closes the scheduler, drains the background loops, then releases the
// journal and log sinks. Each step is bounded by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	var errs []string
	if err := a.sched.Close(ctx); err != nil {
		errs = append(errs, "scheduler: "+err.Error())
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, "supervisor: "+err.Error())
		}
	}
	if a.rec != nil {
		written, failed := a.rec.Counts()
		a.log.Info("journal closed", logx.Uint64("written", written), logx.Uint64("failed", failed))
	}
	if dropped := eventbus.Dropped(a.bus); dropped > 0 {
		a.log.Warn("event bus dropped deliveries", logx.Uint64("dropped", dropped))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, "journal: "+err.Error())
		}
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
