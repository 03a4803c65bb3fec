package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"

	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

const defaultStatusInterval = 30 * time.Second

// statusInterval resolves status.interval: empty means the default, "0s" disables.
func statusInterval(raw string) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return defaultStatusInterval
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return defaultStatusInterval
	}
	return d
}

// formatStatus renders a one-line summary for logs and sd_notify STATUS.
func formatStatus(st throttle.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "queued=%s running=%d done=%s failed=%s conc=%d delay=%s",
		humanize.Comma(int64(st.QueueSize)),
		st.PendingRequests,
		humanize.Comma(int64(st.CompletedRequests)),
		humanize.Comma(int64(st.FailedRequests)),
		st.Concurrency,
		st.Delay,
	)
	if st.QueueSize > 0 {
		fmt.Fprintf(&b, " eta=%s", st.EstimatedTimeToComplete.Round(time.Second))
	}
	if st.Paused {
		b.WriteString(" paused")
	}
	if st.IsRateLimited && !st.BackoffUntil.IsZero() {
		fmt.Fprintf(&b, " backoff_until=%s", humanize.Time(st.BackoffUntil))
	}
	return b.String()
}

// notify sends an sd_notify state. It is a no-op outside systemd.
func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (a *App) reportStatus() {
	st := a.sched.Status()
	line := formatStatus(st)
	a.notify("STATUS=" + line)
	fields := []logx.Field{
		logx.Int("queued", st.QueueSize),
		logx.Int("running", st.PendingRequests),
		logx.Uint64("completed", st.CompletedRequests),
		logx.Uint64("failed", st.FailedRequests),
		logx.Duration("avg_wait", st.AverageWaitTime),
		logx.Bool("rate_limited", st.IsRateLimited),
	}
	if len(st.TopFailures) > 0 {
		fields = append(fields, logx.Any("top_failures", st.TopFailures))
	}
	a.log.Info("status", fields...)
}

// statusLoop reports until ctx ends. The interval follows hot reloads; while
// disabled it is rechecked on the default cadence.
func (a *App) statusLoop(ctx context.Context) error {
	for {
		every := statusInterval(a.cfgm.Get().Status.Interval)
		wait := every
		if wait <= 0 {
			wait = defaultStatusInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if every > 0 {
			a.reportStatus()
		}
	}
}
