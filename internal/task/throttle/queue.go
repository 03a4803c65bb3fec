package throttle

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pacer/internal/eventbus"
	logx "pacer/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Scheduler is a concurrency-, burst- and host-bounded task queue with retry,
// global rate-limit backoff and an adaptive controller.
//
// All admission state (pending heap, in-flight count, burst log, live limits)
// is guarded by mu. The per-host throttle and the backoff window have their
// own locks and never call back into the scheduler.
type Scheduler[T any] struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	pending     taskHeap[T]
	seq         uint64
	running     int
	peakRunning int
	concurrency int
	delay       time.Duration
	starts      []time.Time
	burstTimer  *time.Timer
	paused      bool
	closed      bool
	changed     chan struct{}

	stats    *statsCollector
	domains  *domainThrottle
	detector *detector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	backoffWarn rate.Sometimes
}

type entry[T any] struct {
	task       Task[T]
	host       string
	seq        uint64
	enqueuedAt time.Time
	future     *Future[T]
	index      int
}

func (e *entry[T]) event(attempt int, dur time.Duration, outcome Outcome, err error) TaskEvent {
	ev := TaskEvent{
		ID:         e.task.ID,
		URL:        e.task.URL,
		Host:       e.host,
		Priority:   e.task.Priority,
		Attempt:    attempt,
		Enqueued:   e.enqueuedAt,
		QueueDelay: 0,
		Duration:   dur,
		Outcome:    outcome,
		Metadata:   e.task.Metadata,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// New creates a scheduler. log and bus may be zero/nil.
func New[T any](cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler[T] {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler[T]{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		concurrency: cfg.MaxConcurrent,
		delay:       cfg.Delay,
		changed:     make(chan struct{}),
		stats:       newStatsCollector(),
		domains:     newDomainThrottle(cfg.Delay),
		detector:    newDetector(cfg),
		ctx:         ctx,
		cancel:      cancel,
		backoffWarn: rate.Sometimes{Interval: warnThrottleEvery},
	}
}

// Submit enqueues t and returns immediately. The Future resolves with the
// work's value or the final failure.
func (s *Scheduler[T]) Submit(t Task[T]) (*Future[T], error) {
	if t.Work == nil {
		return nil, ErrNoWork
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	switch {
	case t.MaxRetries < 0:
		t.MaxRetries = 0
	case t.MaxRetries == 0:
		t.MaxRetries = s.cfg.DefaultMaxRetries
	}
	if t.Timeout <= 0 {
		t.Timeout = s.cfg.DefaultTimeout
	}

	s.seq++
	e := &entry[T]{
		task:       t,
		host:       HostOf(t.URL),
		seq:        s.seq,
		enqueuedAt: time.Now(),
		future:     newFuture[T](t.ID),
	}
	heap.Push(&s.pending, e)
	s.stats.admit()
	s.dispatchLocked()
	return e.future, nil
}

// Pause stops admitting pending tasks. Running tasks continue.
func (s *Scheduler[T]) Pause() {
	s.mu.Lock()
	s.paused = true
	s.notifyLocked()
	s.mu.Unlock()
	s.log.Info("scheduler paused")
}

// Resume re-enables admission.
func (s *Scheduler[T]) Resume() {
	s.mu.Lock()
	s.paused = false
	s.dispatchLocked()
	s.mu.Unlock()
	s.log.Info("scheduler resumed")
}

// Clear discards every not-yet-started task; their futures fail with ErrCleared.
// It returns the number of discarded tasks.
func (s *Scheduler[T]) Clear() int {
	s.mu.Lock()
	drained := s.drainLocked()
	s.notifyLocked()
	s.mu.Unlock()

	for _, e := range drained {
		s.reject(e, OutcomeCleared, ErrCleared)
	}
	if len(drained) > 0 {
		s.log.Info("scheduler cleared", logx.Int("discarded", len(drained)))
	}
	return len(drained)
}

// OnEmpty blocks until no task is waiting for admission.
func (s *Scheduler[T]) OnEmpty(ctx context.Context) error {
	return s.waitFor(ctx, func() bool { return s.pending.Len() == 0 })
}

// OnIdle blocks until nothing is pending or running.
func (s *Scheduler[T]) OnIdle(ctx context.Context) error {
	return s.waitFor(ctx, func() bool { return s.pending.Len() == 0 && s.running == 0 })
}

// Apply swaps the live limits. Controller adjustments made before Apply are overwritten.
func (s *Scheduler[T]) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.concurrency = cfg.MaxConcurrent
	s.delay = cfg.Delay
	s.domains.setDelay(cfg.Delay)
	s.detector.configure(cfg)
	s.dispatchLocked()
	s.mu.Unlock()

	s.log.Info("scheduler config applied",
		logx.Int("concurrency", cfg.MaxConcurrent),
		logx.Duration("delay", cfg.Delay),
		logx.Int("burst_limit", cfg.BurstLimit),
		logx.Duration("time_window", cfg.TimeWindow),
	)
}

// Close stops admission, fails pending tasks with ErrClosed and waits for
// running tasks. If ctx ends first, in-progress waits are canceled and ctx.Err()
// is returned.
func (s *Scheduler[T]) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	var drained []*entry[T]
	if !s.closed {
		s.closed = true
		drained = s.drainLocked()
		if s.burstTimer != nil {
			s.burstTimer.Stop()
			s.burstTimer = nil
		}
		s.notifyLocked()
	}
	s.mu.Unlock()

	for _, e := range drained {
		s.reject(e, OutcomeClosed, ErrClosed)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		s.log.Info("scheduler closed")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn("scheduler close timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// dispatchLocked admits pending tasks while concurrency and burst budget allow.
func (s *Scheduler[T]) dispatchLocked() {
	defer s.notifyLocked()
	if s.paused || s.closed {
		return
	}
	for s.pending.Len() > 0 && s.running < s.concurrency {
		now := time.Now()
		if wait := s.burstWaitLocked(now); wait > 0 {
			s.armBurstTimerLocked(wait)
			return
		}
		e := heap.Pop(&s.pending).(*entry[T])
		s.running++
		if s.running > s.peakRunning {
			s.peakRunning = s.running
		}
		if s.cfg.BurstLimit > 0 && s.cfg.TimeWindow > 0 {
			s.starts = append(s.starts, now)
		}
		s.wg.Add(1)
		go s.run(e, now)
	}
}

// burstWaitLocked prunes the start log and returns how long until another
// start fits in the rolling window (0 if one fits now).
func (s *Scheduler[T]) burstWaitLocked(now time.Time) time.Duration {
	limit, window := s.cfg.BurstLimit, s.cfg.TimeWindow
	if limit <= 0 || window <= 0 {
		s.starts = s.starts[:0]
		return 0
	}
	cut := 0
	for cut < len(s.starts) && now.Sub(s.starts[cut]) >= window {
		cut++
	}
	if cut > 0 {
		s.starts = append(s.starts[:0], s.starts[cut:]...)
	}
	if len(s.starts) < limit {
		return 0
	}
	return s.starts[len(s.starts)-limit].Add(window).Sub(now)
}

func (s *Scheduler[T]) armBurstTimerLocked(wait time.Duration) {
	if s.burstTimer != nil {
		s.burstTimer.Stop()
	}
	s.burstTimer = time.AfterFunc(wait, func() {
		s.mu.Lock()
		s.burstTimer = nil
		s.dispatchLocked()
		s.mu.Unlock()
	})
}

func (s *Scheduler[T]) run(e *entry[T], admittedAt time.Time) {
	defer s.wg.Done()

	queueDelay := admittedAt.Sub(e.enqueuedAt)
	ev := e.event(0, 0, "", nil)
	ev.QueueDelay = queueDelay
	s.publish(eventbus.TaskAdmitted, ev)
	s.log.Debug("task.admitted", logx.String("task", e.task.ID), logx.String("host", e.host), logx.Int("priority", e.task.Priority), logx.Duration("queue_delay", queueDelay))

	v, attempts, err := s.execute(e)
	total := time.Since(e.enqueuedAt)
	s.stats.recordSettled(total, err == nil)

	outcome := OutcomeSucceeded
	if err != nil {
		outcome = outcomeOf(err)
		s.log.Warn("task.failed", logx.String("task", e.task.ID), logx.String("host", e.host), logx.String("outcome", string(outcome)), logx.Int("attempts", attempts), logx.Duration("dur", total), logx.Err(err))
	} else {
		s.log.Debug("task.completed", logx.String("task", e.task.ID), logx.String("host", e.host), logx.Int("attempts", attempts), logx.Duration("dur", total))
	}
	e.future.resolve(v, attempts, err)

	sev := e.event(attempts, time.Since(admittedAt), outcome, err)
	sev.QueueDelay = queueDelay
	s.publish(eventbus.TaskSettled, sev)

	s.mu.Lock()
	s.running--
	s.dispatchLocked()
	s.mu.Unlock()
}

func outcomeOf(err error) Outcome {
	switch err.(type) {
	case *NonRetryableError:
		return OutcomeAborted
	case *RetriesExhaustedError:
		return OutcomeExhausted
	default:
		return OutcomeFailed
	}
}

func (s *Scheduler[T]) reject(e *entry[T], outcome Outcome, err error) {
	var zero T
	e.future.resolve(zero, 0, err)
	s.publish(eventbus.TaskCleared, e.event(0, 0, outcome, err))
}

func (s *Scheduler[T]) drainLocked() []*entry[T] {
	out := make([]*entry[T], 0, s.pending.Len())
	for s.pending.Len() > 0 {
		out = append(out, heap.Pop(&s.pending).(*entry[T]))
	}
	return out
}

// notifyLocked wakes every waiter blocked in waitFor.
func (s *Scheduler[T]) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler[T]) waitFor(ctx context.Context, cond func() bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler[T]) retryParams() (time.Duration, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RetryBase, s.cfg.RetryMaxDelay
}

func (s *Scheduler[T]) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// taskHeap orders by priority (desc), then submission order.
type taskHeap[T any] []*entry[T]

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
