package client

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_fetch_retries_total",
		Help: "Total number of retry attempts by upstream and error class",
	}, []string{"upstream", "error_class"})

	fetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diseasenet_fetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by upstream and error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"upstream", "error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_fetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by upstream and error class",
	}, []string{"upstream", "error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps every delay, jitter and Retry-After included.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// Jitter is the largest random fraction added to a delay (0.2 = up to +20%).
	Jitter float64 `yaml:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
// random must return a value in [0, 1).
func (c RetryConfig) Backoff(attempt int, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	delay += delay * c.Jitter * random()
	if c.MaxBackoff > 0 && delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}
	return time.Duration(delay)
}

// attemptOutcome is the result of one request attempt. Exactly one of resp
// and err is set; class is empty on success.
type attemptOutcome struct {
	resp       *Response
	err        error
	class      ErrorClass
	retryAfter time.Duration
}

func (o attemptOutcome) retryable() bool {
	return o.err != nil && shouldRetry(o.class)
}

// retryWithBackoff runs attempt until it succeeds, fails permanently, the
// context ends or MaxAttempts is reached.
func (f *Fetcher) retryWithBackoff(ctx context.Context, path string, attempt func(context.Context) attemptOutcome) (*Response, error) {
	cfg := f.config.Retry
	logger := f.logger.With().Str("path", path).Logger()

	var last attemptOutcome
	for n := 1; ; n++ {
		out := attempt(ctx)
		if out.err == nil {
			if n > 1 {
				logger.Info().Int("attempt", n).Msg("Request succeeded after retry")
			}
			return out.resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
		if !out.retryable() {
			return nil, out.err
		}

		last = out
		if n >= cfg.MaxAttempts {
			break
		}

		backoff := cfg.Backoff(n, f.random)
		if out.retryAfter > backoff {
			backoff = out.retryAfter
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		fetchRetriesTotal.WithLabelValues(f.config.Name, string(out.class)).Inc()
		fetchRetryBackoffSeconds.WithLabelValues(f.config.Name, string(out.class)).Observe(backoff.Seconds())
		logger.Debug().
			Err(out.err).
			Str("error_class", string(out.class)).
			Int("attempt", n).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().Int("attempt", n).Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(backoff):
		}
	}

	fetchRetryExhaustedTotal.WithLabelValues(f.config.Name, string(last.class)).Inc()
	logger.Warn().
		Err(last.err).
		Str("error_class", string(last.class)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return nil, &RetryExhaustedError{
		Upstream: f.config.Name,
		Path:     path,
		Attempts: cfg.MaxAttempts,
		Last:     last.err,
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
