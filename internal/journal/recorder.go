package journal

import (
	"context"
	"sync/atomic"
	"time"

	"pacer/internal/eventbus"
	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

const (
	appendTimeout = 2 * time.Second
	waitPollEvery = 10 * time.Millisecond
)

// Recorder appends settled and cleared tasks from the event bus to a Store.
// Journal failures are logged and counted; they never affect the task.
//
// The subscription is taken in NewRecorder so events published before Run
// starts are buffered rather than lost.
type Recorder struct {
	store Store
	log   logx.Logger

	ch    <-chan eventbus.Event
	unsub func()

	written atomic.Uint64
	failed  atomic.Uint64
	handled atomic.Uint64
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{store: store, log: log}
	if store != nil && bus != nil {
		r.ch, r.unsub = bus.Subscribe(256, eventbus.TaskSettled, eventbus.TaskCleared)
	}
	return r
}

// Run consumes events until ctx ends, then drains what is already buffered.
func (r *Recorder) Run(ctx context.Context) error {
	if r.ch == nil {
		<-ctx.Done()
		return nil
	}
	defer r.unsub()
	ch := r.ch

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return nil
					}
					r.handle(e)
				default:
					return nil
				}
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(e)
		}
	}
}

func (r *Recorder) handle(e eventbus.Event) {
	defer r.handled.Add(1)
	ev, ok := e.Data.(throttle.TaskEvent)
	if !ok {
		return
	}
	actx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.store.Append(actx, FromEvent(e.Time, ev)); err != nil {
		r.failed.Add(1)
		r.log.Warn("journal append failed", logx.String("task", ev.ID), logx.Err(err))
		return
	}
	r.written.Add(1)
}

// Counts returns (written, failed) appends so far.
func (r *Recorder) Counts() (uint64, uint64) {
	return r.written.Load(), r.failed.Load()
}

// Handled returns how many events the recorder has consumed, journaled or not.
func (r *Recorder) Handled() uint64 { return r.handled.Load() }

// WaitHandled blocks until at least n events were consumed or ctx ends.
func (r *Recorder) WaitHandled(ctx context.Context, n uint64) error {
	t := time.NewTicker(waitPollEvery)
	defer t.Stop()
	for r.handled.Load() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
