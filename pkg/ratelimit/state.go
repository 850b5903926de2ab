package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// HeaderThrottlingControl is the response header PubChem uses to report how
// close a client is to being blocked.
const HeaderThrottlingControl = "X-Throttling-Control"

// ThrottleStatus is the traffic-light status reported for one dimension.
type ThrottleStatus string

const (
	// StatusGreen means the client is well within limits.
	StatusGreen ThrottleStatus = "Green"

	// StatusYellow means usage is elevated; requests are slowed down.
	StatusYellow ThrottleStatus = "Yellow"

	// StatusRed means the client is about to be blocked.
	StatusRed ThrottleStatus = "Red"

	// StatusBlack means the client is currently blocked.
	StatusBlack ThrottleStatus = "Black"
)

// Pause applied before each request for a given worst status.
const (
	PauseYellow = 1 * time.Second
	PauseRed    = 5 * time.Second
	PauseBlack  = 30 * time.Second
)

// StateMaxAge bounds how long an observed state keeps influencing requests.
const StateMaxAge = 60 * time.Second

func (s ThrottleStatus) severity() int {
	switch s {
	case StatusYellow:
		return 1
	case StatusRed:
		return 2
	case StatusBlack:
		return 3
	default:
		return 0
	}
}

func parseStatus(word string) (ThrottleStatus, bool) {
	for _, s := range []ThrottleStatus{StatusGreen, StatusYellow, StatusRed, StatusBlack} {
		if strings.EqualFold(word, string(s)) {
			return s, true
		}
	}
	return "", false
}

// ThrottleState is the last throttling report of an upstream.
type ThrottleState struct {
	// RequestCount reflects the number of requests in the upstream's window.
	RequestCount ThrottleStatus `json:"request_count"`

	// RequestTime reflects the server time consumed by the client's requests.
	RequestTime ThrottleStatus `json:"request_time"`

	// Service reflects the overall load of the upstream.
	Service ThrottleStatus `json:"service"`

	// LastUpdate is when the header was observed.
	LastUpdate time.Time `json:"last_update"`
}

// ParseThrottlingControl parses a header value such as
//
//	Request Count status: Green (0%), Request Time status: Yellow (52%), Service status: Green (20%)
//
// Missing dimensions default to Green.
func ParseThrottlingControl(value string, observedAt time.Time) (ThrottleState, error) {
	state := ThrottleState{
		RequestCount: StatusGreen,
		RequestTime:  StatusGreen,
		Service:      StatusGreen,
		LastUpdate:   observedAt,
	}

	recognized := 0
	for _, part := range strings.Split(value, ",") {
		label, rest, ok := strings.Cut(part, "status:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		status, ok := parseStatus(fields[0])
		if !ok {
			return ThrottleState{}, fmt.Errorf("unknown throttle status %q", fields[0])
		}

		switch strings.ToLower(strings.TrimSpace(label)) {
		case "request count":
			state.RequestCount = status
		case "request time":
			state.RequestTime = status
		case "service":
			state.Service = status
		default:
			continue
		}
		recognized++
	}

	if recognized == 0 {
		return ThrottleState{}, fmt.Errorf("no throttle status in %q", value)
	}
	return state, nil
}

// Worst returns the most severe status across all dimensions.
func (s *ThrottleState) Worst() ThrottleStatus {
	worst := StatusGreen
	for _, st := range []ThrottleStatus{s.RequestCount, s.RequestTime, s.Service} {
		if st.severity() > worst.severity() {
			worst = st
		}
	}
	return worst
}

// IsStale returns true if the state is older than maxAge.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *ThrottleState) NeedsThrottling() bool {
	return s.Worst() != StatusGreen
}

// Delay returns the pause to apply before the next request.
func (s *ThrottleState) Delay() time.Duration {
	switch s.Worst() {
	case StatusYellow:
		return PauseYellow
	case StatusRed:
		return PauseRed
	case StatusBlack:
		return PauseBlack
	default:
		return 0
	}
}
