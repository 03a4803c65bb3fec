// Package fetch turns HTTP GETs into scheduler work.
//
// Non-2xx responses become errors carrying the status code, so the scheduler
// classifies 429/503 as rate-limit signals and 401/403/404 as permanent.
// A Retry-After header on those responses is forwarded as a retry hint.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pacer/internal/task/throttle"
)

const (
	DefaultUserAgent    = "pacer/1.0 (+https://github.com/pacer)"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 8 << 20
)

// Page is the result of one successful GET.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	FetchedAt  time.Time
	Elapsed    time.Duration
}

type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// Client overrides the HTTP client (tests). Timeout is ignored when set.
	Client *http.Client
}

type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	now       func() time.Time
}

func New(opts Options) *Client {
	c := &Client{
		http:      opts.Client,
		userAgent: strings.TrimSpace(opts.UserAgent),
		maxBody:   opts.MaxBodyBytes,
		now:       time.Now,
	}
	if c.http == nil {
		to := opts.Timeout
		if to <= 0 {
			to = DefaultTimeout
		}
		c.http = &http.Client{Timeout: to}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxBody <= 0 {
		c.maxBody = DefaultMaxBodyBytes
	}
	return c
}

// Get fetches u once.
func (c *Client) Get(ctx context.Context, u string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, throttle.NoRetry(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	body, rerr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	truncated := int64(len(body)) > c.maxBody
	if truncated {
		body = body[:c.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, statusError(resp, c.now())
	}
	if rerr != nil {
		return Page{}, fmt.Errorf("read body: %w", rerr)
	}

	return Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Truncated:  truncated,
		FetchedAt:  start,
		Elapsed:    c.now().Sub(start),
	}, nil
}

// Work returns a scheduler work unit fetching u.
func (c *Client) Work(u string) throttle.Work[Page] {
	return throttle.WorkFunc[Page](func(ctx context.Context) (Page, error) {
		return c.Get(ctx, u)
	})
}

// Task builds a scheduler task for u.
func (c *Client) Task(u string, priority int) throttle.Task[Page] {
	return throttle.Task[Page]{URL: u, Priority: priority, Work: c.Work(u)}
}

func statusError(resp *http.Response, now time.Time) error {
	err := throttle.WithStatus(errors.New("GET "+resp.Request.URL.Redacted()+": "+resp.Status), resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		if d, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), now); ok {
			err = throttle.RetryAfter(err, d)
		}
	}
	return err
}

// ParseRetryAfter reads a Retry-After value: delta seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
