package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream throttle tracking.
var (
	upstreamThrottleStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diseasenet_upstream_throttle_status",
		Help: "Worst reported throttle status by upstream (0 green, 1 yellow, 2 red, 3 black)",
	}, []string{"upstream"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_ratelimit_throttles_total",
		Help: "Total number of requests delayed because the upstream reported throttling",
	}, []string{"upstream", "status"})
)

// Tracker follows the throttling reports of one upstream and slows requests
// down while the upstream says the client is close to its limits.
type Tracker struct {
	name   string
	mu     sync.RWMutex
	state  *ThrottleState
	logger zerolog.Logger
}

// NewTracker creates a new throttle tracker.
func NewTracker(name string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		name:   name,
		logger: logger.With().Str("upstream", name).Logger(),
	}
}

// GetState returns the last observed state.
// Returns a healthy state if nothing has been observed yet.
func (t *Tracker) GetState() ThrottleState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state == nil {
		return ThrottleState{
			RequestCount: StatusGreen,
			RequestTime:  StatusGreen,
			Service:      StatusGreen,
			LastUpdate:   time.Now(),
		}
	}
	return *t.state
}

// UpdateFromHeaders records the throttling header of a response.
// Responses without the header leave the state unchanged.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	value := headers.Get(HeaderThrottlingControl)
	if value == "" {
		return nil
	}

	state, err := ParseThrottlingControl(value, time.Now())
	if err != nil {
		return err
	}

	t.mu.Lock()
	previous := t.state
	t.state = &state
	t.mu.Unlock()

	worst := state.Worst()
	upstreamThrottleStatus.WithLabelValues(t.name).Set(float64(worst.severity()))

	if previous == nil || previous.Worst() != worst {
		event := t.logger.Info()
		if state.NeedsThrottling() {
			event = t.logger.Warn()
		}
		event.
			Str("request_count", string(state.RequestCount)).
			Str("request_time", string(state.RequestTime)).
			Str("service", string(state.Service)).
			Msg("Upstream throttle status changed")
	}
	return nil
}

// Wait pauses the caller according to the last fresh throttle report.
func (t *Tracker) Wait(ctx context.Context) error {
	state := t.GetState()
	if state.IsStale(StateMaxAge) || !state.NeedsThrottling() {
		return nil
	}

	delay := state.Delay()
	rateLimitThrottlesTotal.WithLabelValues(t.name, string(state.Worst())).Inc()
	t.logger.Warn().
		Str("status", string(state.Worst())).
		Dur("delay", delay).
		Msg("Upstream throttling - delaying request")

	return sleep(ctx, RealClock, delay)
}
