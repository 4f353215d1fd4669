// Package ratelimit implements a sliding-window request limiter for the
// HubSpot CRM API. HubSpot enforces an account-wide budget of 150 requests
// per rolling 10 seconds; a single Limiter instance must be shared by all
// extraction runs targeting the same account.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for limiter operations.
var (
	limiterAcquiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubspot_rate_limit_acquires_total",
		Help: "Total number of request slots granted by the rate limiter",
	})

	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hubspot_rate_limit_wait_seconds",
		Help:    "Time callers spent blocked waiting for a request slot",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// Default HubSpot account-wide request budget.
const (
	DefaultMaxRequests = 150
	DefaultWindow      = 10 * time.Second

	// sleepEpsilon is added to computed waits so that a re-check after
	// waking lands strictly outside the window.
	sleepEpsilon = 100 * time.Millisecond
)

// Limiter enforces a sliding-window request budget. It tracks the
// timestamps of recent acquisitions and blocks callers just long enough to
// stay under maxRequests per window.
//
// The lock is never held across a sleep: a caller that must wait releases
// the window, sleeps, and re-validates, so one waiting run does not
// serialize unrelated runs behind its sleep.
type Limiter struct {
	maxRequests int
	window      time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	stamps []time.Time // oldest first, all within [now-window, now]

	// Injection points for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewLimiter creates a limiter granting at most maxRequests acquisitions
// per sliding window. Panics if maxRequests or window is not positive.
func NewLimiter(maxRequests int, window time.Duration, logger zerolog.Logger) *Limiter {
	if maxRequests <= 0 {
		panic("ratelimit: maxRequests must be positive")
	}
	if window <= 0 {
		panic("ratelimit: window must be positive")
	}

	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		logger:      logger,
		stamps:      make([]time.Time, 0, maxRequests),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// NewDefaultLimiter creates a limiter with the HubSpot account budget
// (150 requests per 10 seconds).
func NewDefaultLimiter(logger zerolog.Logger) *Limiter {
	return NewLimiter(DefaultMaxRequests, DefaultWindow, logger)
}

// Acquire blocks until issuing one more request would not exceed the
// budget, then records the request. It cannot fail on its own; the only
// error condition is context cancellation while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	waited := time.Duration(0)

	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)

		if len(l.stamps) < l.maxRequests {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()

			limiterAcquiresTotal.Inc()
			limiterWaitSeconds.Observe(waited.Seconds())
			return nil
		}

		wait := l.window - now.Sub(l.stamps[0]) + sleepEpsilon
		l.mu.Unlock()

		l.logger.Debug().
			Dur("wait", wait).
			Int("window_requests", l.maxRequests).
			Msg("Rate limit reached, waiting for slot")

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// evict drops all timestamps that have aged out of the window. Entries are
// removed, not filtered on lookup, so memory stays bounded by maxRequests.
// Caller must hold l.mu.
func (l *Limiter) evict(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// InFlight returns the number of requests currently counted in the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.stamps)
}

// sleepContext sleeps for the given duration, aborting early if the
// context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
