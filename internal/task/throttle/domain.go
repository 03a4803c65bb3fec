package throttle

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FallbackHost buckets tasks whose URL has no parsable host.
const FallbackHost = "unknown"

// HostOf extracts the lower-cased hostname from raw.
func HostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FallbackHost
	}
	u, err := url.Parse(raw)
	if err != nil {
		return FallbackHost
	}
	h := strings.ToLower(u.Hostname())
	if h == "" {
		return FallbackHost
	}
	return h
}

// DomainState is the bookkeeping kept per host.
type DomainState struct {
	Host          string
	LastRequestAt time.Time
	RequestCount  uint64
}

type hostEntry struct {
	lim   *rate.Limiter
	state DomainState
}

// domainThrottle spaces attempts to the same host by at least 2 × delay.
//
// Each host owns a burst-1 limiter refilling once per 2 × delay. A reservation
// checks, claims and schedules the slot in one step, so two tasks for the same
// host can never both observe "enough time has passed".
type domainThrottle struct {
	mu    sync.Mutex
	delay time.Duration
	hosts map[string]*hostEntry
}

func newDomainThrottle(delay time.Duration) *domainThrottle {
	return &domainThrottle{delay: delay, hosts: make(map[string]*hostEntry)}
}

func spacingLimit(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(2 * delay)
}

func (d *domainThrottle) entry(host string) *hostEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.hosts[host]
	if e == nil {
		e = &hostEntry{lim: rate.NewLimiter(spacingLimit(d.delay), 1), state: DomainState{Host: host}}
		d.hosts[host] = e
	}
	return e
}

// hostSlot is a claimed spacing slot for one attempt.
type hostSlot struct {
	r     *rate.Reservation
	actAt time.Time
}

// release hands an unused slot back as of the moment it was due, so the next
// claim on the host is not pushed a further 2 × delay out.
func (h hostSlot) release() {
	if h.r != nil {
		h.r.CancelAt(h.actAt)
	}
}

// wait blocks until host's next slot and returns the claimed slot together
// with how long it waited.
func (d *domainThrottle) wait(ctx context.Context, host string) (time.Duration, hostSlot, error) {
	e := d.entry(host)
	now := time.Now()
	r := e.lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	slot := hostSlot{r: r, actAt: now.Add(delay)}
	if delay <= 0 {
		return 0, slot, nil
	}
	if err := sleepCtx(ctx, delay); err != nil {
		r.Cancel()
		return 0, hostSlot{}, err
	}
	return delay, slot, nil
}

// record updates host state after an attempt, success or failure.
func (d *domainThrottle) record(host string, at time.Time) {
	e := d.entry(host)
	d.mu.Lock()
	e.state.RequestCount++
	if at.After(e.state.LastRequestAt) {
		e.state.LastRequestAt = at
	}
	d.mu.Unlock()
}

func (d *domainThrottle) setDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delay == delay {
		return
	}
	d.delay = delay
	lim := spacingLimit(delay)
	for _, e := range d.hosts {
		e.lim.SetLimit(lim)
	}
}

func (d *domainThrottle) currentDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}

func (d *domainThrottle) snapshot() []DomainStat {
	d.mu.Lock()
	out := make([]DomainStat, 0, len(d.hosts))
	for _, e := range d.hosts {
		out = append(out, DomainStat{Domain: e.state.Host, Requests: e.state.RequestCount, LastRequest: e.state.LastRequestAt})
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
