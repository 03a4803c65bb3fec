package throttle

import (
	"time"

	"pacer/internal/eventbus"
	logx "pacer/pkg/logx"
)

// computeAdjustment is one controller step over a stats snapshot.
// Both results are clamped to the controller bounds on every step, so a
// value configured outside them is pulled in on the first tick.
func computeAdjustment(snap statsSnapshot, concurrency int, delay time.Duration, cc ControllerConfig) Adjustment {
	adj := Adjustment{
		SuccessRate:     snap.SuccessRate(),
		AverageLatency:  snap.AvgLatency,
		FromConcurrency: concurrency,
		ToConcurrency:   concurrency,
		FromDelay:       delay,
		ToDelay:         delay,
	}

	switch {
	case adj.SuccessRate < cc.LowSuccessRate && concurrency > cc.MinConcurrency:
		adj.ToConcurrency = clampInt(concurrency-1, cc.MinConcurrency, cc.MaxConcurrency)
	case adj.SuccessRate > cc.HighSuccessRate && concurrency < cc.MaxConcurrency:
		adj.ToConcurrency = clampInt(concurrency+1, cc.MinConcurrency, cc.MaxConcurrency)
	}

	switch {
	case snap.AvgLatency > cc.SlowLatency && delay < cc.MaxDelay:
		adj.ToDelay = clampDur(delay+cc.DelayStepUp, cc.MinDelay, cc.MaxDelay)
	case snap.AvgLatency < cc.FastLatency && delay > cc.MinDelay:
		adj.ToDelay = clampDur(delay-cc.DelayStepDn, cc.MinDelay, cc.MaxDelay)
	}
	adj.ToConcurrency = clampInt(adj.ToConcurrency, cc.MinConcurrency, cc.MaxConcurrency)
	adj.ToDelay = clampDur(adj.ToDelay, cc.MinDelay, cc.MaxDelay)
	return adj
}

// Tick applies one controller adjustment from the current statistics.
// The caller decides the cadence; see internal/autotune for a scheduled driver.
func (s *Scheduler[T]) Tick() Adjustment {
	snap := s.stats.snapshot()

	s.mu.Lock()
	adj := computeAdjustment(snap, s.concurrency, s.delay, s.cfg.Controller)
	if adj.Changed() {
		s.concurrency = adj.ToConcurrency
		s.delay = adj.ToDelay
		s.domains.setDelay(adj.ToDelay)
		s.dispatchLocked()
	}
	s.mu.Unlock()

	if adj.Changed() {
		s.log.Info("controller.adjusted",
			logx.Float64("success_rate", adj.SuccessRate),
			logx.Duration("avg_latency", adj.AverageLatency),
			logx.Int("concurrency_from", adj.FromConcurrency),
			logx.Int("concurrency_to", adj.ToConcurrency),
			logx.Duration("delay_from", adj.FromDelay),
			logx.Duration("delay_to", adj.ToDelay),
		)
		s.publish(eventbus.ControllerAdjusted, adj)
	}
	return adj
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
