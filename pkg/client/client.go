// Package client provides the retrying, rate-limited HTTP fetcher used for
// every upstream data source.
package client

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/diseasenet/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_fetch_requests_total",
		Help: "Total upstream requests by upstream and status",
	}, []string{"upstream", "status"})

	fetchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diseasenet_fetch_request_duration_seconds",
		Help:    "Upstream request duration in seconds by upstream",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"upstream"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_fetch_errors_total",
		Help: "Total upstream errors by upstream and class",
	}, []string{"upstream", "class"})
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than rate limiting.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network errors, resets and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 32 << 20

// Config holds the fetcher configuration for one upstream.
type Config struct {
	// Name identifies the upstream in errors, logs and metrics.
	Name string

	// BaseURL is prepended to every request path.
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry configures the retry policy for transient failures.
	Retry RetryConfig

	// MaxBodyBytes bounds response bodies (default DefaultMaxBodyBytes).
	MaxBodyBytes int64
}

// DefaultConfig returns a default fetcher configuration.
func DefaultConfig(name, baseURL, userAgent string) Config {
	return Config{
		Name:         name,
		BaseURL:      baseURL,
		UserAgent:    userAgent,
		Timeout:      10 * time.Second,
		Retry:        DefaultRetryConfig(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Request is a read-only lookup against an upstream.
type Request struct {
	// Path is appended to the base URL; callers escape path segments.
	Path string

	// Query parameters, may be nil.
	Query url.Values

	// Accept header (default application/json).
	Accept string
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// XML unmarshals the response body into target.
func (r *Response) XML(target any) error {
	return xml.Unmarshal(r.Body, target)
}

// Fetcher performs lookups against one upstream with rate limiting and retry.
// All requests are GETs, so every attempt is safe to repeat.
type Fetcher struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	throttle   *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
	random     func() float64
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithThrottleTracker makes the fetcher follow the upstream's throttling headers.
func WithThrottleTracker(t *ratelimit.Tracker) Option {
	return func(f *Fetcher) { f.throttle = t }
}

// WithRandom replaces the jitter source; random must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(f *Fetcher) { f.random = random }
}

// New creates a fetcher. The limiter is owned by the upstream and may be
// shared by several fetchers of the same upstream.
func New(cfg Config, limiter ratelimit.Limiter, opts ...Option) (*Fetcher, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("upstream name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required for %s", cfg.Name)
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required for %s", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		cfg.Retry.BackoffMultiplier = 1
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	f := &Fetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		config:     cfg,
		logger:     log.With().Str("component", "fetcher").Str("upstream", cfg.Name).Logger(),
		random:     rand.Float64,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Name returns the upstream name.
func (f *Fetcher) Name() string {
	return f.config.Name
}

// Fetch performs one logical lookup. Transient failures are retried with
// exponential backoff; a permanent failure returns *PermanentFetchError at
// once; running out of attempts returns *RetryExhaustedError.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	target := strings.TrimRight(f.config.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	return f.retryWithBackoff(ctx, req.Path, func(ctx context.Context) attemptOutcome {
		return f.attempt(ctx, req, target)
	})
}

// attempt sends a single request and classifies its result.
func (f *Fetcher) attempt(ctx context.Context, req Request, target string) attemptOutcome {
	// The throttle pause comes first so a granted permit goes out at once.
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx); err != nil {
			return attemptOutcome{err: fmt.Errorf("throttle: %w", err)}
		}
	}
	if err := f.limiter.Acquire(ctx); err != nil {
		return attemptOutcome{err: fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("create request: %w", err)}
	}
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if f.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.config.UserAgent)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(httpReq)
	fetchRequestDuration.WithLabelValues(f.config.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return f.networkFailure(req.Path, err)
	}
	defer resp.Body.Close()

	if f.throttle != nil {
		if err := f.throttle.UpdateFromHeaders(resp.Header); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to parse throttling header")
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		return f.networkFailure(req.Path, fmt.Errorf("read body: %w", err))
	}

	fetchRequestsTotal.WithLabelValues(f.config.Name, strconv.Itoa(resp.StatusCode)).Inc()

	class := classifyStatus(resp.StatusCode)
	switch class {
	case "":
		if int64(len(body)) > f.config.MaxBodyBytes {
			fetchErrorsTotal.WithLabelValues(f.config.Name, string(ErrorClassClient)).Inc()
			return attemptOutcome{
				err: &PermanentFetchError{
					Upstream:   f.config.Name,
					Path:       req.Path,
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("response body exceeds %d bytes", f.config.MaxBodyBytes),
				},
				class: ErrorClassClient,
			}
		}
		return attemptOutcome{resp: &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}}

	case ErrorClassClient:
		fetchErrorsTotal.WithLabelValues(f.config.Name, string(class)).Inc()
		f.logger.Debug().Str("path", req.Path).Int("status", resp.StatusCode).Msg("Upstream rejected request")
		return attemptOutcome{
			err: &PermanentFetchError{
				Upstream:   f.config.Name,
				Path:       req.Path,
				StatusCode: resp.StatusCode,
				Message:    http.StatusText(resp.StatusCode),
			},
			class: class,
		}

	default:
		fetchErrorsTotal.WithLabelValues(f.config.Name, string(class)).Inc()
		f.logger.Warn().
			Str("path", req.Path).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")
		return attemptOutcome{
			err: &TransientFetchError{
				Upstream:   f.config.Name,
				Path:       req.Path,
				StatusCode: resp.StatusCode,
				ErrorClass: class,
			},
			class:      class,
			retryAfter: parseRetryAfter(resp.Header),
		}
	}
}

func (f *Fetcher) networkFailure(path string, err error) attemptOutcome {
	fetchErrorsTotal.WithLabelValues(f.config.Name, string(ErrorClassNetwork)).Inc()
	fetchRequestsTotal.WithLabelValues(f.config.Name, "network_error").Inc()
	f.logger.Warn().Err(err).Str("path", path).Msg("Upstream request failed")
	return attemptOutcome{
		err: &TransientFetchError{
			Upstream:   f.config.Name,
			Path:       path,
			ErrorClass: ErrorClassNetwork,
			Err:        err,
		},
		class: ErrorClassNetwork,
	}
}

// classifyStatus maps an HTTP status to an error class; "" means success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusRequestTimeout:
		return ErrorClassNetwork
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
