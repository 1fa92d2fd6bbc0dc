package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quickapi/quickapi/internal/httpmw"
	"github.com/quickapi/quickapi/internal/xerrors"
)

// ErrInvalidConfig is returned by New when a limit or window is not positive.
// It is fatal to that limiter instance only; callers decide whether to abort.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// SharedKey is the bucket used for requests whose client key could not be
// resolved when the limiter runs fail-open.
const SharedKey = "unknown"

// Strategy selects the admission arithmetic. The window strategy keeps a
// timestamp log per client and computes exact retry hints; the bucket
// strategy delegates to x/time/rate token buckets.
type Strategy string

const (
	StrategyWindow Strategy = "window"
	StrategyBucket Strategy = "bucket"
)

// Config holds the admission policy for a Limiter.
type Config struct {
	Strategy Strategy

	// SustainedLimit requests allowed per SustainedWindow.
	SustainedLimit  int
	SustainedWindow time.Duration

	// BurstLimit requests allowed per BurstWindow. The burst window is the
	// short sub-window that bounds spikes inside the sustained window.
	BurstLimit  int
	BurstWindow time.Duration

	// IdleTTL controls how long a client with no requests stays in the map
	// before the background sweep evicts it.
	IdleTTL time.Duration

	// MaxClients caps the number of tracked clients. 0 disables the cap.
	// At capacity, requests from unknown clients are rejected; known clients
	// are still evaluated normally.
	MaxClients int

	// FailClosed rejects requests with an empty client key instead of
	// falling back to the shared bucket.
	FailClosed bool
}

// Default returns the stock policy: 100 requests per minute sustained,
// 10 per 5 seconds burst, 5 minute idle eviction, fail-open.
func Default() Config {
	return Config{
		Strategy:        StrategyWindow,
		SustainedLimit:  100,
		SustainedWindow: time.Minute,
		BurstLimit:      10,
		BurstWindow:     5 * time.Second,
		IdleTTL:         5 * time.Minute,
		MaxClients:      100000,
	}
}

func (c Config) validate() error {
	if c.Strategy != StrategyWindow && c.Strategy != StrategyBucket {
		return xerrors.Wrapf(ErrInvalidConfig, "unknown strategy %q", c.Strategy)
	}
	if c.SustainedLimit <= 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "sustained limit must be positive (got %d)", c.SustainedLimit)
	}
	if c.SustainedWindow <= 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "sustained window must be positive (got %v)", c.SustainedWindow)
	}
	if c.BurstLimit <= 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "burst limit must be positive (got %d)", c.BurstLimit)
	}
	if c.BurstWindow <= 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "burst window must be positive (got %v)", c.BurstWindow)
	}
	if c.BurstWindow > c.SustainedWindow {
		return xerrors.Wrapf(ErrInvalidConfig, "burst window %v exceeds sustained window %v", c.BurstWindow, c.SustainedWindow)
	}
	if c.IdleTTL <= 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "idle TTL must be positive (got %v)", c.IdleTTL)
	}
	if c.MaxClients < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "max clients must be >= 0 (got %d)", c.MaxClients)
	}
	return nil
}

// Decision is the outcome of evaluating one request.
// A rejection is expected behavior, not an error: RetryAfter tells the
// caller how long to back off.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

var allow = Decision{Allowed: true}

// window is the per-client record.
type window struct {
	// stamps holds the timestamps of allowed requests inside the sustained
	// window, oldest first. Bounded by SustainedLimit via pruning.
	stamps []time.Time

	// bucket replaces stamps under StrategyBucket.
	bucket *rate.Limiter

	lastSeen time.Time

	// logged tracks whether the first-denial callback already fired.
	// Resets when the entry is evicted and re-created.
	logged bool
}

// Limiter tracks per-client request windows and decides admission.
// It is an explicit process-scoped registry: construct it in main and hand
// it to the HTTP layer, lifecycle tied to the service context.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window

	cfg Config
	now func() time.Time

	// atCapacity latches the capacity callback so it fires once per episode.
	atCapacity bool

	// OnFirstDenied is called once per tracked client when it is first
	// rejected, for single-entry logging without spam.
	OnFirstDenied func(key string)

	// OnDenied is called on every rejection, for counters.
	OnDenied func(key string)

	// OnCapacity is called when the client map first hits MaxClients.
	OnCapacity func()
}

type Option func(*Limiter)

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithOnFirstDenied sets a callback for the first rejection per client.
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnDenied sets a callback for every rejection.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnCapacity sets a callback for when the client map fills up.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.OnCapacity = fn }
}

// New validates cfg, creates a Limiter, and starts the background sweep
// goroutine. The goroutine exits when ctx is cancelled.
func New(ctx context.Context, cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		clients: make(map[string]*window),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweepLoop(ctx)
	return l, nil
}

// Evaluate decides whether the request identified by key may proceed at time
// now. It records allowed requests; rejected requests leave no trace beyond
// lastSeen.
func (l *Limiter) Evaluate(key string, now time.Time) Decision {
	if key == "" {
		if l.cfg.FailClosed {
			if l.OnDenied != nil {
				l.OnDenied(key)
			}
			return Decision{Allowed: false, RetryAfter: l.cfg.BurstWindow}
		}
		key = SharedKey
	}

	l.mu.Lock()

	w, exists := l.clients[key]
	if !exists {
		if l.cfg.MaxClients > 0 && len(l.clients) >= l.cfg.MaxClients {
			fireCapacity := !l.atCapacity
			l.atCapacity = true
			l.mu.Unlock()
			if fireCapacity && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(key)
			}
			// a slot frees up no later than when the next idle entry expires
			return Decision{Allowed: false, RetryAfter: l.cfg.IdleTTL}
		}
		w = &window{}
		l.clients[key] = w
	}
	w.lastSeen = now

	var d Decision
	switch l.cfg.Strategy {
	case StrategyBucket:
		d = l.evalBucket(w, now)
	default:
		d = l.evalWindow(w, now)
	}

	if !d.Allowed {
		firstDenial := !w.logged
		w.logged = true
		// release before callbacks, they may do slow work
		l.mu.Unlock()
		if firstDenial && l.OnFirstDenied != nil {
			l.OnFirstDenied(key)
		}
		if l.OnDenied != nil {
			l.OnDenied(key)
		}
		return d
	}

	l.mu.Unlock()
	return d
}

// evalWindow applies the sliding-window-with-sub-window arithmetic.
// Caller holds l.mu.
func (l *Limiter) evalWindow(w *window, now time.Time) Decision {
	// drop timestamps that left the sustained window
	cutoff := now.Add(-l.cfg.SustainedWindow)
	keep := 0
	for keep < len(w.stamps) && !w.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[keep:]...)
	}

	if len(w.stamps) >= l.cfg.SustainedLimit {
		return Decision{
			Allowed:    false,
			RetryAfter: w.stamps[0].Add(l.cfg.SustainedWindow).Sub(now),
		}
	}

	burstCutoff := now.Add(-l.cfg.BurstWindow)
	first := len(w.stamps)
	for i, ts := range w.stamps {
		if ts.After(burstCutoff) {
			first = i
			break
		}
	}
	if len(w.stamps)-first >= l.cfg.BurstLimit {
		return Decision{
			Allowed:    false,
			RetryAfter: w.stamps[first].Add(l.cfg.BurstWindow).Sub(now),
		}
	}

	w.stamps = append(w.stamps, now)
	return allow
}

// evalBucket admits via a token bucket: the sustained limit becomes the
// refill rate over the sustained window, the burst limit the bucket size.
// Caller holds l.mu.
func (l *Limiter) evalBucket(w *window, now time.Time) Decision {
	if w.bucket == nil {
		perSec := float64(l.cfg.SustainedLimit) / l.cfg.SustainedWindow.Seconds()
		w.bucket = rate.NewLimiter(rate.Limit(perSec), l.cfg.BurstLimit)
	}
	res := w.bucket.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return allow
}

// sweepLoop evicts idle clients every IdleTTL/2 until ctx is cancelled.
func (l *Limiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

// sweep removes clients idle longer than IdleTTL. Sweeping twice with no
// intervening requests removes nothing the second time.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	for key, w := range l.clients {
		if now.Sub(w.lastSeen) > l.cfg.IdleTTL {
			delete(l.clients, key)
		}
	}
	if l.cfg.MaxClients == 0 || len(l.clients) < l.cfg.MaxClients {
		l.atCapacity = false
	}
	l.mu.Unlock()
}

// Len reports the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

type rejectBody struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Middleware rejects requests over the client's limit with 429 and a
// Retry-After hint. The client key comes from the client IP middleware,
// which must run earlier in the chain.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := httpmw.ClientIPFromContext(r.Context())

		d := l.Evaluate(key, l.now())
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
		w.WriteHeader(http.StatusTooManyRequests)
		// intentionally no detail about limits or remaining budget
		_ = json.NewEncoder(w).Encode(rejectBody{
			Status:    http.StatusTooManyRequests,
			Message:   "too many requests",
			Timestamp: l.now().UTC().Format(time.RFC3339),
		})
	})
}

// retryAfterSeconds rounds up for the Retry-After header, never below 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
