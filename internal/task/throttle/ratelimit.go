package throttle

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Class is the retry classification of a failure.
type Class int

const (
	ClassTransient Class = iota
	ClassRateLimit
	ClassNonRetryable
)

func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassNonRetryable:
		return "non_retryable"
	default:
		return "transient"
	}
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

var (
	rateLimitPhrases    = []string{"rate limit", "too many requests", "temporarily blocked"}
	nonRetryablePhrases = []string{"not found", "unauthorized", "forbidden"}
)

// Classify maps err onto the failure taxonomy.
//
// Precedence: explicit NoRetry, then status code, then message phrases.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if IsNoRetry(err) {
		return ClassNonRetryable
	}
	switch StatusCode(err) {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return ClassRateLimit
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return ClassNonRetryable
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return ClassRateLimit
		}
	}
	for _, p := range nonRetryablePhrases {
		if strings.Contains(msg, p) {
			return ClassNonRetryable
		}
	}
	return ClassTransient
}

// IsRateLimit reports whether err is a rate-limit signal.
func IsRateLimit(err error) bool { return Classify(err) == ClassRateLimit }

// IsNonRetryable reports whether err aborts retries immediately.
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	if errors.As(err, &nr) {
		return true
	}
	return Classify(err) == ClassNonRetryable
}

// detector owns the global backoff window.
//
// activeUntil only moves forward while signals keep arriving and reads as
// zero once the deadline has passed.
type detector struct {
	mu          sync.Mutex
	activeUntil time.Time

	base    time.Duration
	jitter  time.Duration
	maxMult int
	rng     *rand.Rand

	now func() time.Time
}

func newDetector(cfg Config) *detector {
	return &detector{
		base:    cfg.RateLimitBackoff,
		jitter:  cfg.RateLimitJitter,
		maxMult: cfg.RateLimitMaxMultiplier,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

func (d *detector) configure(cfg Config) {
	d.mu.Lock()
	d.base = cfg.RateLimitBackoff
	d.jitter = cfg.RateLimitJitter
	d.maxMult = cfg.RateLimitMaxMultiplier
	d.mu.Unlock()
}

// multiplier returns min(2^floor(10*failureRate), maxMult).
func multiplier(failureRate float64, maxMult int) int {
	if failureRate < 0 || math.IsNaN(failureRate) {
		failureRate = 0
	}
	exp := int(math.Floor(10 * failureRate))
	m := 1
	for i := 0; i < exp && m < maxMult; i++ {
		m *= 2
	}
	if m > maxMult {
		m = maxMult
	}
	return m
}

// observe opens or extends the backoff window for a rate-limit failure.
// It returns the computed backoff and the resulting deadline.
func (d *detector) observe(failureRate float64) (time.Duration, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	backoff := d.base * time.Duration(multiplier(failureRate, d.maxMult))
	if d.jitter > 0 {
		backoff += time.Duration(d.rng.Int63n(int64(d.jitter)))
	}
	until := d.now().Add(backoff)
	if until.After(d.activeUntil) {
		d.activeUntil = until
	}
	return backoff, d.activeUntil
}

// until returns the active deadline, resetting it once passed.
func (d *detector) until() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.activeUntil.IsZero() && !d.now().Before(d.activeUntil) {
		d.activeUntil = time.Time{}
	}
	return d.activeUntil
}

func (d *detector) active() bool { return !d.until().IsZero() }

// wait blocks until the window is closed. The window may be extended while
// waiting, so the deadline is re-read after each sleep.
func (d *detector) wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	for {
		until := d.until()
		if until.IsZero() {
			return time.Since(start), nil
		}
		if err := sleepCtx(ctx, time.Until(until)); err != nil {
			return time.Since(start), err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
