package throttle

import "time"

const topFailureReasons = 5

// Status returns a snapshot of queue and rate-limit state. It has no side
// effects beyond expiring a passed backoff window.
func (s *Scheduler[T]) Status() Status {
	snap := s.stats.snapshot()
	until := s.detector.until()

	s.mu.Lock()
	st := Status{
		QueueSize:         s.pending.Len(),
		PendingRequests:   s.running,
		CompletedRequests: snap.Completed,
		FailedRequests:    snap.Failed,
		AverageWaitTime:   snap.AvgWait,
		LastRequestTime:   snap.LastRequest,
		IsRateLimited:     !until.IsZero(),
		Admitted:          snap.Admitted,
		Attempts:          snap.Attempts,
		AverageLatency:    snap.AvgLatency,
		Concurrency:       s.concurrency,
		Delay:             s.delay,
		BurstLimit:        s.cfg.BurstLimit,
		TimeWindow:        s.cfg.TimeWindow,
		Paused:            s.paused,
		Closed:            s.closed,
		BackoffUntil:      until,
		PeakInFlight:      s.peakRunning,
	}
	s.mu.Unlock()

	st.EstimatedTimeToComplete = estimate(st.QueueSize, snap.AvgLatency, st.Delay)
	st.TopFailures = s.stats.topFailures(topFailureReasons)
	return st
}

// DomainStats lists per-host request counts, busiest first.
func (s *Scheduler[T]) DomainStats() []DomainStat {
	return s.domains.snapshot()
}

// estimate is queueSize × (average latency + delay).
func estimate(queued int, avgLatency, delay time.Duration) time.Duration {
	return time.Duration(queued) * (avgLatency + delay)
}
