package throttle

import (
	"context"
	"time"
)

// NoRetries can be set as Task.MaxRetries to run the work exactly once.
// A zero MaxRetries means "use Config.DefaultMaxRetries".
const NoRetries = -1

// Config controls admission, spacing, retry and backoff behavior.
//
// Zero values fall back to defaults (see withDefaults). BurstLimit or
// TimeWindow <= 0 disables the burst window; Delay == 0 disables per-host spacing.
type Config struct {
	MaxConcurrent int
	Delay         time.Duration
	BurstLimit    int
	TimeWindow    time.Duration

	DefaultMaxRetries int
	// DefaultTimeout is applied when Task.Timeout is 0. 0 means no deadline.
	DefaultTimeout time.Duration

	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// Global backoff window opened on rate-limit signals.
	// RateLimitJitter < 0 disables jitter.
	RateLimitBackoff       time.Duration
	RateLimitJitter        time.Duration
	RateLimitMaxMultiplier int

	Controller ControllerConfig
}

// ControllerConfig bounds the adaptive controller.
type ControllerConfig struct {
	MinConcurrency int
	MaxConcurrency int
	MinDelay       time.Duration
	MaxDelay       time.Duration

	LowSuccessRate  float64
	HighSuccessRate float64

	SlowLatency time.Duration
	FastLatency time.Duration
	DelayStepUp time.Duration
	DelayStepDn time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 60 * time.Second
	}
	if c.RateLimitJitter == 0 {
		c.RateLimitJitter = 10 * time.Second
	}
	if c.RateLimitMaxMultiplier <= 0 {
		c.RateLimitMaxMultiplier = 16
	}
	c.Controller = c.Controller.withDefaults()
	return c
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = 1
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.MaxConcurrency < c.MinConcurrency {
		c.MaxConcurrency = c.MinConcurrency
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 3 * time.Second
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.LowSuccessRate <= 0 {
		c.LowSuccessRate = 0.8
	}
	if c.HighSuccessRate <= 0 {
		c.HighSuccessRate = 0.95
	}
	if c.SlowLatency <= 0 {
		c.SlowLatency = 5 * time.Second
	}
	if c.FastLatency <= 0 {
		c.FastLatency = time.Second
	}
	if c.DelayStepUp <= 0 {
		c.DelayStepUp = 200 * time.Millisecond
	}
	if c.DelayStepDn <= 0 {
		c.DelayStepDn = 100 * time.Millisecond
	}
	return c
}

// DefaultConfig returns the effective configuration for a zero Config.
func DefaultConfig() Config { return Config{}.withDefaults() }

// Work is a unit of work executed by the scheduler.
// The scheduler never inspects the returned value.
type Work[T any] interface {
	Do(ctx context.Context) (T, error)
}

// WorkFunc adapts a plain function to Work.
type WorkFunc[T any] func(ctx context.Context) (T, error)

func (f WorkFunc[T]) Do(ctx context.Context) (T, error) { return f(ctx) }

// Task describes one submission.
//
// ID is generated when empty. URL only feeds the per-host throttle; a
// malformed URL is bucketed under a fallback host and never fails the task.
type Task[T any] struct {
	ID         string
	URL        string
	Priority   int
	MaxRetries int
	Timeout    time.Duration
	Work       Work[T]
	Metadata   map[string]string
}

// Outcome is the terminal state of a task.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCleared   Outcome = "cleared"
	OutcomeClosed    Outcome = "closed"
	OutcomeFailed    Outcome = "failed"
)

// ExecutionRecord describes a single attempt.
type ExecutionRecord struct {
	TaskID     string        `json:"task_id"`
	Host       string        `json:"host"`
	Attempt    int           `json:"attempt"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
	Class      Class         `json:"class"`
	Waited     time.Duration `json:"waited"`
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string            `json:"id"`
	URL        string            `json:"url,omitempty"`
	Host       string            `json:"host"`
	Priority   int               `json:"priority"`
	Attempt    int               `json:"attempt,omitempty"`
	Enqueued   time.Time         `json:"enqueued"`
	QueueDelay time.Duration     `json:"queue_delay"`
	Duration   time.Duration     `json:"duration"`
	Outcome    Outcome           `json:"outcome,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// BackoffEvent is emitted when a rate-limit signal opens (or extends) the global window.
type BackoffEvent struct {
	TaskID      string        `json:"task_id"`
	Host        string        `json:"host"`
	Backoff     time.Duration `json:"backoff"`
	ActiveUntil time.Time     `json:"active_until"`
	FailureRate float64       `json:"failure_rate"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	QueueSize               int
	PendingRequests         int
	CompletedRequests       uint64
	FailedRequests          uint64
	AverageWaitTime         time.Duration
	LastRequestTime         time.Time
	IsRateLimited           bool
	EstimatedTimeToComplete time.Duration

	Admitted       uint64
	Attempts       uint64
	AverageLatency time.Duration
	Concurrency    int
	Delay          time.Duration
	BurstLimit     int
	TimeWindow     time.Duration
	Paused         bool
	Closed         bool
	BackoffUntil   time.Time
	PeakInFlight   int
	TopFailures    []FailureCount
}

// DomainStat is the per-host diagnostic view.
type DomainStat struct {
	Domain      string
	Requests    uint64
	LastRequest time.Time
}

// FailureCount is one bucket of the failure-reason histogram.
type FailureCount struct {
	Reason string
	Count  uint64
}

// Adjustment reports what one controller tick changed.
type Adjustment struct {
	SuccessRate     float64
	AverageLatency  time.Duration
	FromConcurrency int
	ToConcurrency   int
	FromDelay       time.Duration
	ToDelay         time.Duration
}

// Changed reports whether the tick rewrote either value.
func (a Adjustment) Changed() bool {
	return a.FromConcurrency != a.ToConcurrency || a.FromDelay != a.ToDelay
}
