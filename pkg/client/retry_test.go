package client

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if config.Jitter != 0.2 {
		t.Errorf("Jitter = %v, want 0.2", config.Jitter)
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
	zero := func() float64 { return 0 }
	half := func() float64 { return 0.5 }

	tests := []struct {
		name    string
		attempt int
		random  func() float64
		want    time.Duration
	}{
		{"first attempt", 1, zero, 100 * time.Millisecond},
		{"second attempt doubles", 2, zero, 200 * time.Millisecond},
		{"third attempt doubles again", 3, zero, 400 * time.Millisecond},
		{"jitter adds a fraction", 2, half, 220 * time.Millisecond},
		{"capped at max backoff", 5, zero, 1 * time.Second},
		{"attempt below one treated as first", 0, zero, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.Backoff(tt.attempt, tt.random); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryConfig_BackoffJitterBounds(t *testing.T) {
	config := DefaultRetryConfig()
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		got := config.Backoff(1, func() float64 { return r })
		if got < time.Second || got > 1200*time.Millisecond {
			t.Errorf("Backoff(1) with random %v = %v, want within [1s, 1.2s]", r, got)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)

	tests := []struct {
		name  string
		value string
		min   time.Duration
		max   time.Duration
	}{
		{"missing", "", 0, 0},
		{"seconds", "3", 3 * time.Second, 3 * time.Second},
		{"invalid", "soon", 0, 0},
		{"negative", "-4", 0, 0},
		{"http date", future, 8 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			got := parseRetryAfter(h)
			if got < tt.min || got > tt.max {
				t.Errorf("parseRetryAfter(%q) = %v, want within [%v, %v]", tt.value, got, tt.min, tt.max)
			}
		})
	}
}
