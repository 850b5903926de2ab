// Package ratelimit bounds the request rate sent to each upstream data source.
//
// Every upstream owns its own Limiter; fetchers receive it by injection. Two
// implementations exist: Window paces requests inside one process, RedisWindow
// shares one budget between every process pointing at the same Redis key.
// Tracker complements both by slowing down when an upstream reports, through
// its throttling headers, that the client is close to being blocked.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diseasenet_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit permit by upstream",
		Buckets: []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"upstream"})

	rateLimitGrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_ratelimit_grants_total",
		Help: "Total number of rate limit permits granted by upstream",
	}, []string{"upstream"})
)

// Limiter gates outbound requests to one upstream.
type Limiter interface {
	// Acquire blocks until the caller may send one request. It returns the
	// context error if ctx ends first; no permit is consumed in that case.
	Acquire(ctx context.Context) error
}

// Clock abstracts time so pacing can be tested without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Config holds the configuration of a limiter.
type Config struct {
	// Name identifies the upstream in logs, metrics and Redis keys.
	Name string

	// PerSecond is the maximum number of permits in any rolling one-second window.
	PerSecond int

	// Smooth spreads permits evenly (1/PerSecond apart) instead of allowing
	// a burst of PerSecond at the start of each window.
	Smooth bool

	// Clock defaults to RealClock.
	Clock Clock
}

// DefaultConfig returns a smooth limiter configuration for the named upstream.
func DefaultConfig(name string, perSecond int) Config {
	return Config{
		Name:      name,
		PerSecond: perSecond,
		Smooth:    true,
		Clock:     RealClock,
	}
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("limiter name is required")
	}
	if c.PerSecond <= 0 {
		return fmt.Errorf("per_second must be > 0 (got %d)", c.PerSecond)
	}
	return nil
}

// fifo is a one-slot semaphore. Goroutines blocked sending on a channel are
// woken in arrival order, which makes it a FIFO lock.
type fifo chan struct{}

func (f fifo) lock(ctx context.Context) error {
	select {
	case f <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f fifo) unlock() { <-f }

func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// Window is an in-process sliding-window limiter.
type Window struct {
	name   string
	limit  int
	period time.Duration
	clock  Clock
	pacer  *rate.Limiter
	turn   fifo

	// grants is a ring of the last limit grant times, guarded by turn.
	grants []time.Time
	next   int

	// onGrant, when set, observes each grant time while the turn is held.
	onGrant func(time.Time)

	logger zerolog.Logger
}

// NewWindow creates an in-process limiter.
func NewWindow(cfg Config, logger zerolog.Logger) (*Window, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}

	w := &Window{
		name:   cfg.Name,
		limit:  cfg.PerSecond,
		period: time.Second,
		clock:  cfg.Clock,
		turn:   make(fifo, 1),
		grants: make([]time.Time, cfg.PerSecond),
		logger: logger.With().Str("upstream", cfg.Name).Logger(),
	}
	if cfg.Smooth {
		w.pacer = rate.NewLimiter(rate.Limit(cfg.PerSecond), 1)
	}
	return w, nil
}

// Acquire implements Limiter.
func (w *Window) Acquire(ctx context.Context) error {
	start := w.clock.Now()

	if err := w.turn.lock(ctx); err != nil {
		return err
	}
	defer w.turn.unlock()

	if w.pacer != nil {
		now := w.clock.Now()
		r := w.pacer.ReserveN(now, 1)
		if err := sleep(ctx, w.clock, r.DelayFrom(now)); err != nil {
			r.CancelAt(w.clock.Now())
			return err
		}
	}

	for {
		now := w.clock.Now()
		oldest := w.grants[w.next]
		if oldest.IsZero() || now.Sub(oldest) >= w.period {
			w.grants[w.next] = now
			w.next = (w.next + 1) % w.limit
			if w.onGrant != nil {
				w.onGrant(now)
			}
			break
		}
		if err := sleep(ctx, w.clock, w.period-now.Sub(oldest)); err != nil {
			return err
		}
	}

	waited := w.clock.Now().Sub(start)
	rateLimitWaitSeconds.WithLabelValues(w.name).Observe(waited.Seconds())
	rateLimitGrantsTotal.WithLabelValues(w.name).Inc()
	if waited > w.period {
		w.logger.Debug().Dur("waited", waited).Msg("Permit granted after long wait")
	}
	return nil
}
