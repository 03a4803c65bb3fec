package throttle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"pacer/internal/eventbus"
	logx "pacer/pkg/logx"
)

// retryDelay returns the wait before attempt (1-based retry index):
// min(base × 2^(retry-1), max). A RetryAfter hint replaces the computed value.
func retryDelay(base, maxD time.Duration, retry int, err error) time.Duration {
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d > maxD {
			d = maxD
		}
		return d
	}
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= maxD {
			return maxD
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}

// execute runs one admitted task through its attempts.
// It returns the value, the number of invocations and the final error.
func (s *Scheduler[T]) execute(e *entry[T]) (T, int, error) {
	var zero T
	ctx := s.ctx
	maxRetries := e.task.MaxRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base, maxD := s.retryParams()
			d := retryDelay(base, maxD, attempt, lastErr)
			s.log.Debug("task retry scheduled", logx.String("task", e.task.ID), logx.Int("attempt", attempt+1), logx.Duration("delay", d), logx.Err(lastErr))
			s.publish(eventbus.TaskRetry, e.event(attempt+1, 0, "", lastErr))
			if err := sleepCtx(ctx, d); err != nil {
				return zero, attempt, fmt.Errorf("retry wait: %w", err)
			}
		}

		waited, err := s.gate(ctx, e.host)
		if err != nil {
			return zero, attempt, fmt.Errorf("gate wait: %w", err)
		}

		s.publish(eventbus.TaskAttempt, e.event(attempt+1, 0, "", nil))
		started := time.Now()
		v, err := s.invoke(ctx, e)
		finished := time.Now()

		rec := ExecutionRecord{TaskID: e.task.ID, Host: e.host, Attempt: attempt + 1, StartedAt: started, FinishedAt: finished, Waited: waited}
		s.domains.record(e.host, started)
		if err == nil {
			s.stats.recordAttempt(rec, nil)
			return v, attempt + 1, nil
		}

		rec.Error = err.Error()
		rec.Class = Classify(err)
		s.stats.recordAttempt(rec, err)

		switch rec.Class {
		case ClassNonRetryable:
			return zero, attempt + 1, &NonRetryableError{Attempts: attempt + 1, Err: err}
		case ClassRateLimit:
			s.openBackoff(e, err)
		}
		lastErr = err
	}
	return zero, maxRetries + 1, &RetriesExhaustedError{Attempts: maxRetries + 1, Err: lastErr}
}

// gate waits out the global backoff window and the host spacing.
// Host spacing is claimed last; if a window opened meanwhile, the claimed host
// slot is released and both are re-checked so no attempt starts inside an
// active window.
func (s *Scheduler[T]) gate(ctx context.Context, host string) (time.Duration, error) {
	var total time.Duration
	for {
		w, err := s.detector.wait(ctx)
		total += w
		if err != nil {
			return total, err
		}
		w, slot, err := s.domains.wait(ctx, host)
		total += w
		if err != nil {
			return total, err
		}
		if !s.detector.active() {
			return total, nil
		}
		slot.release()
	}
}

// invoke calls the work once, applying the task timeout and recovering panics.
func (s *Scheduler[T]) invoke(ctx context.Context, e *entry[T]) (v T, err error) {
	runCtx := ctx
	if e.task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.task.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", e.task.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	v, err = e.task.Work.Do(runCtx)
	if err != nil && e.task.Timeout > 0 && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Timeout: e.task.Timeout, Err: err}
	}
	return v, err
}

func (s *Scheduler[T]) openBackoff(e *entry[T], err error) {
	rate := s.stats.snapshot().FailureRate()
	backoff, until := s.detector.observe(rate)
	s.backoffWarn.Do(func() {
		s.log.Warn("backoff.opened", logx.String("task", e.task.ID), logx.String("host", e.host), logx.Duration("backoff", backoff), logx.Time("until", until), logx.Float64("failure_rate", rate), logx.Err(err))
	})
	s.publish(eventbus.BackoffOpened, BackoffEvent{TaskID: e.task.ID, Host: e.host, Backoff: backoff, ActiveUntil: until, FailureRate: rate})
}
