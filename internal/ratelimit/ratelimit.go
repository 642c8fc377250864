package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/httpmw"
)

const (
	DefaultMax     = 100
	DefaultWindow  = time.Hour
	DefaultPrefix  = "/api"
	DefaultMessage = "Too many requests from this IP, please try again in an hour!"
)

// record is the counter for one identity.
type record struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
	// logged is set after the first denial so OnFirstDenied fires once per
	// record lifetime
	logged bool
}

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// AtCapacity is set when a new identity was refused because the record
	// map is full.
	AtCapacity bool
}

// RetryAfter is the time left in the window, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	left := d.ResetAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return (left + time.Second - 1).Truncate(time.Second)
}

// Limiter counts requests per identity in fixed windows.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record

	max        int
	window     time.Duration
	ttl        time.Duration
	maxRecords int
	prefix     string
	message    string
	clock      clockwork.Clock

	onFirstDenied func(identity string)
	onDenied      func(identity string)
	onCapacity    func()
}

type Option func(*Limiter)

// WithLimit allows max requests per window for each identity.
func WithLimit(max int, window time.Duration) Option {
	return func(l *Limiter) {
		if max > 0 {
			l.max = max
		}
		if window > 0 {
			l.window = window
		}
	}
}

// WithTTL sets how long an idle record survives. Default is twice the window.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) { l.ttl = d }
}

// WithMaxRecords bounds the number of tracked identities. 0 is unbounded.
func WithMaxRecords(n int) Option {
	return func(l *Limiter) { l.maxRecords = n }
}

// WithPrefix limits Middleware to paths under prefix. "" applies it to every path.
func WithPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = strings.TrimSuffix(prefix, "/") }
}

// WithMessage sets the client-facing denial message.
func WithMessage(msg string) Option {
	return func(l *Limiter) {
		if msg != "" {
			l.message = msg
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithOnFirstDenied is called once per record when it is first denied, for logging.
func WithOnFirstDenied(fn func(identity string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied is called on every denial, for metrics.
func WithOnDenied(fn func(identity string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnCapacity is called each time a new identity is refused because the
// record map is full.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

// New builds a Limiter and starts the eviction sweep, which stops when ctx
// is done.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		records: make(map[string]*record),
		max:     DefaultMax,
		window:  DefaultWindow,
		prefix:  DefaultPrefix,
		message: DefaultMessage,
		clock:   clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl <= 0 {
		l.ttl = 2 * l.window
	}
	go l.sweepLoop(ctx)
	return l
}

// Admit counts one request for identity at now and reports whether it may
// proceed. A window that has fully elapsed is reset in place.
func (l *Limiter) Admit(identity string, now time.Time) Decision {
	l.mu.Lock()
	rec, ok := l.records[identity]
	if !ok {
		if l.maxRecords > 0 && len(l.records) >= l.maxRecords {
			l.mu.Unlock()
			if l.onCapacity != nil {
				l.onCapacity()
			}
			if l.onDenied != nil {
				l.onDenied(identity)
			}
			return Decision{Limit: l.max, ResetAt: now.Add(l.window), AtCapacity: true}
		}
		rec = &record{windowStart: now}
		l.records[identity] = rec
	}

	if now.Sub(rec.windowStart) >= l.window {
		rec.windowStart = now
		rec.count = 0
	}
	rec.count++
	rec.lastSeen = now

	d := Decision{
		Allowed:   rec.count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-rec.count, 0),
		ResetAt:   rec.windowStart.Add(l.window),
	}
	first := !d.Allowed && !rec.logged
	if first {
		rec.logged = true
	}
	// hooks may do slow work, never run them under the lock
	l.mu.Unlock()

	if !d.Allowed {
		if first && l.onFirstDenied != nil {
			l.onFirstDenied(identity)
		}
		if l.onDenied != nil {
			l.onDenied(identity)
		}
	}
	return d
}

// Len is the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Sweep evicts records idle for longer than the TTL as of now and returns
// how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, rec := range l.records {
		if now.Sub(rec.lastSeen) > l.ttl {
			delete(l.records, id)
			n++
		}
	}
	return n
}

// minSweepInterval floors the sweep ticker so a tiny TTL cannot spin it.
const minSweepInterval = time.Second

func (l *Limiter) sweepLoop(ctx context.Context) {
	ticker := l.clock.NewTicker(max(l.ttl/2, minSweepInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.Sweep(l.clock.Now())
		}
	}
}

func (l *Limiter) applies(path string) bool {
	if l.prefix == "" {
		return true
	}
	return path == l.prefix || strings.HasPrefix(path, l.prefix+"/")
}

// Middleware admits requests under the configured prefix by client IP.
// Denials go through the error channel as a 429 operational error so the
// client gets the standard envelope.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.applies(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		now := l.clock.Now()
		d := l.Admit(identityOf(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter(now).Seconds())))
			httpmw.Forward(w, r, apperr.New(l.message, http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityOf prefers the address resolved by httpmw.ClientIP.
func identityOf(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
