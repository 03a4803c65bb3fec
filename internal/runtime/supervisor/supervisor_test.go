package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "pacer/pkg/logx"
)

func stopCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsErrorAndPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), logx.Nop())
	s.Go("fails", func(ctx context.Context) error { return errors.New("boom") })
	s.Go("panics", func(ctx context.Context) error { panic("oops") })
	s.Go("clean", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	err := s.Stop(stopCtx(t))
	if err == nil {
		t.Fatal("expected first error to surface")
	}
	if !strings.Contains(err.Error(), "fails") && !strings.Contains(err.Error(), "panics") {
		t.Fatalf("err = %v", err)
	}

	var sawPanic bool
	for _, st := range s.Snapshot() {
		if st.Active != 0 {
			t.Fatalf("%s still active after Stop", st.Name)
		}
		if st.Name == "panics" && st.Panics == 1 {
			sawPanic = true
		}
	}
	if !sawPanic {
		t.Fatalf("panic not recorded: %+v", s.Snapshot())
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), logx.Nop())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("restart loop never succeeded")
	}
	if err := s.Stop(stopCtx(t)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Restarts != 2 || snap[0].Runs != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), logx.Nop())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxRestarts: 2})

	deadline := time.Now().Add(3 * time.Second)
	for s.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Err() == nil {
		t.Fatal("expected give-up error")
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	_ = s.Stop(stopCtx(t))
}
