// Package throttle implements an adaptive, rate-limited task scheduler for
// outbound work against third-party hosts.
//
// A Scheduler admits tasks by priority under a live concurrency limit and an
// optional rolling burst window. Each attempt then passes two gates: the global
// backoff window opened by rate-limit signals, and a per-host courtesy spacing
// of 2 × Delay. Failures are classified as transient, rate-limit or
// non-retryable; transient and rate-limit failures are retried with capped
// exponential backoff.
//
// The scheduler never runs its own control loop. Callers invoke Tick to let
// the adaptive controller retune concurrency and delay from observed success
// rate and latency.
//
// Minimal usage:
//
//	s := throttle.New[[]byte](throttle.Config{MaxConcurrent: 4, Delay: time.Second}, logx.Nop(), nil)
//	f, _ := s.Submit(throttle.Task[[]byte]{URL: u, Work: throttle.WorkFunc[[]byte](fetch)})
//	body, err := f.Wait(ctx)
package throttle
