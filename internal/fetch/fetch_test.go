package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

func TestGetSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "pacer-test" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := New(Options{UserAgent: "pacer-test", MaxBodyBytes: 5})
	p, err := c.Get(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.StatusCode != 200 || string(p.Body) != "hello" || !p.Truncated {
		t.Fatalf("page = %+v", p)
	}
	if p.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("header = %v", p.Header)
	}
}

func TestGetStatusClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		status     int
		retryAfter string
		class      throttle.Class
		hint       time.Duration
	}{
		{name: "429 with hint", status: 429, retryAfter: "7", class: throttle.ClassRateLimit, hint: 7 * time.Second},
		{name: "503", status: 503, class: throttle.ClassRateLimit},
		{name: "404", status: 404, class: throttle.ClassNonRetryable},
		{name: "403", status: 403, class: throttle.ClassNonRetryable},
		{name: "500", status: 500, class: throttle.ClassTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := New(Options{}).Get(context.Background(), srv.URL)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := throttle.StatusCode(err); got != tt.status {
				t.Fatalf("StatusCode = %d, want %d", got, tt.status)
			}
			if got := throttle.Classify(err); got != tt.class {
				t.Fatalf("Classify = %v, want %v", got, tt.class)
			}
			var ra throttle.RetryAfterError
			hasHint := errors.As(err, &ra)
			if tt.hint > 0 && (!hasHint || ra.RetryAfter() != tt.hint) {
				t.Fatalf("retry hint missing or wrong: %v", err)
			}
			if tt.hint == 0 && hasHint {
				t.Fatalf("unexpected retry hint: %v", err)
			}
		})
	}
}

func TestBadURLIsPermanent(t *testing.T) {
	t.Parallel()
	_, err := New(Options{}).Get(context.Background(), "://bad")
	if !throttle.IsNonRetryable(err) {
		t.Fatalf("err = %v, want non-retryable", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if d, ok := ParseRetryAfter("120", now); !ok || d != 2*time.Minute {
		t.Fatalf("seconds = %v, %v", d, ok)
	}
	date := now.Add(30 * time.Second).Format(http.TimeFormat)
	if d, ok := ParseRetryAfter(date, now); !ok || d != 30*time.Second {
		t.Fatalf("date = %v, %v", d, ok)
	}
	past := now.Add(-time.Hour).Format(http.TimeFormat)
	if d, ok := ParseRetryAfter(past, now); !ok || d != 0 {
		t.Fatalf("past date = %v, %v", d, ok)
	}
	for _, bad := range []string{"", "-3", "soon"} {
		if _, ok := ParseRetryAfter(bad, now); ok {
			t.Fatalf("ParseRetryAfter(%q) should fail", bad)
		}
	}
}

func TestSchedulerRetriesThrough503(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := throttle.New[Page](throttle.Config{
		MaxConcurrent:    1,
		RetryBase:        time.Millisecond,
		RateLimitBackoff: 10 * time.Millisecond,
		RateLimitJitter:  -1,
	}, logx.Nop(), nil)
	defer func() { _ = s.Close(context.Background()) }()

	c := New(Options{})
	f, err := s.Submit(c.Task(srv.URL+"/page", 0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !strings.HasSuffix(p.URL, "/page") || string(p.Body) != "ok" {
		t.Fatalf("page = %+v", p)
	}
	if f.Attempts() != 2 || hits.Load() != 2 {
		t.Fatalf("attempts = %d, hits = %d", f.Attempts(), hits.Load())
	}
}
