package throttle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	latencyWindow    = 100
	maxReasonBuckets = 64
	otherReason      = "other"
)

// ring is a fixed-capacity buffer of durations; the oldest value is evicted first.
type ring struct {
	buf  []time.Duration
	next int
	full bool
}

func newRing(n int) ring { return ring{buf: make([]time.Duration, n)} }

func (r *ring) push(d time.Duration) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) avg() time.Duration {
	n := r.len()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += r.buf[i]
	}
	return sum / time.Duration(n)
}

// statsCollector is pure bookkeeping; it never makes control decisions.
type statsCollector struct {
	mu sync.Mutex

	admitted  uint64
	completed uint64
	failed    uint64
	attempts  uint64

	totalLatency time.Duration
	totalWait    time.Duration
	latencies    ring
	reasons      map[string]uint64

	lastRequest time.Time
}

func newStatsCollector() *statsCollector {
	return &statsCollector{latencies: newRing(latencyWindow), reasons: make(map[string]uint64)}
}

type statsSnapshot struct {
	Admitted     uint64
	Completed    uint64
	Failed       uint64
	Attempts     uint64
	TotalLatency time.Duration
	AvgLatency   time.Duration
	AvgWait      time.Duration
	LastRequest  time.Time
}

// SuccessRate is completed / max(completed+failed, 1).
func (s statsSnapshot) SuccessRate() float64 {
	settled := s.Completed + s.Failed
	if settled == 0 {
		settled = 1
	}
	return float64(s.Completed) / float64(settled)
}

// FailureRate is failed / (completed+failed), 0 when nothing settled yet.
func (s statsSnapshot) FailureRate() float64 {
	settled := s.Completed + s.Failed
	if settled == 0 {
		return 0
	}
	return float64(s.Failed) / float64(settled)
}

func (s *statsCollector) admit() {
	s.mu.Lock()
	s.admitted++
	s.mu.Unlock()
}

func (s *statsCollector) recordAttempt(rec ExecutionRecord, err error) {
	dur := rec.FinishedAt.Sub(rec.StartedAt)
	if dur < 0 {
		dur = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.totalLatency += dur
	s.latencies.push(dur)
	if rec.StartedAt.After(s.lastRequest) {
		s.lastRequest = rec.StartedAt
	}
	if err != nil {
		key := reasonOf(err)
		if _, ok := s.reasons[key]; !ok && len(s.reasons) >= maxReasonBuckets {
			key = otherReason
		}
		s.reasons[key]++
	}
}

// recordSettled counts a finished task. wait spans submission to settle.
func (s *statsCollector) recordSettled(wait time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.completed++
	} else {
		s.failed++
	}
	s.totalWait += wait
}

func (s *statsCollector) snapshot() statsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := statsSnapshot{
		Admitted:     s.admitted,
		Completed:    s.completed,
		Failed:       s.failed,
		Attempts:     s.attempts,
		TotalLatency: s.totalLatency,
		AvgLatency:   s.latencies.avg(),
		LastRequest:  s.lastRequest,
	}
	if settled := s.completed + s.failed; settled > 0 {
		snap.AvgWait = s.totalWait / time.Duration(settled)
	}
	return snap
}

// topFailures returns the n most frequent failure reasons.
func (s *statsCollector) topFailures(n int) []FailureCount {
	s.mu.Lock()
	out := make([]FailureCount, 0, len(s.reasons))
	for k, v := range s.reasons {
		out = append(out, FailureCount{Reason: k, Count: v})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// reasonOf reduces an error to a low-cardinality histogram key.
func reasonOf(err error) string {
	var te *TimeoutError
	switch {
	case errors.As(err, &te):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if code := StatusCode(err); code != 0 {
		return fmt.Sprintf("status_%d", code)
	}
	if c := Classify(err); c != ClassTransient {
		return c.String()
	}
	msg := err.Error()
	if len(msg) > 60 {
		msg = msg[:60]
	}
	return msg
}
