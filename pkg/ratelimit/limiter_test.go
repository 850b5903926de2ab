package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/diseasenet/internal/testutil"
	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(os.Stderr).Level(zerolog.Disabled)

// manualClock parks every sleeper until the test fires it.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	pending chan manualTimer
}

type manualTimer struct {
	d  time.Duration
	ch chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{
		now:     time.Unix(1_700_000_000, 0),
		pending: make(chan manualTimer, 64),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.pending <- manualTimer{d: d, ch: ch}
	return ch
}

// next waits for the next sleeper to register.
func (c *manualClock) next(t *testing.T) manualTimer {
	t.Helper()
	select {
	case timer := <-c.pending:
		return timer
	case <-time.After(2 * time.Second):
		t.Fatal("no sleeper registered")
		return manualTimer{}
	}
}

func (c *manualClock) fire(timer manualTimer) {
	c.mu.Lock()
	c.now = c.now.Add(timer.d)
	now := c.now
	c.mu.Unlock()
	timer.ch <- now
}

func TestNewWindow_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("kegg", 3),
		},
		{
			name:    "missing name",
			config:  Config{PerSecond: 3},
			wantErr: "limiter name is required",
		},
		{
			name:    "zero rate",
			config:  Config{Name: "kegg"},
			wantErr: "per_second must be > 0 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindow(tt.config, testLogger)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("NewWindow() error = %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("NewWindow() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// acquireConcurrently issues total Acquire calls from callers goroutines and
// returns the grant times in grant order.
func acquireConcurrently(t *testing.T, w *Window, callers, total int) []time.Time {
	t.Helper()

	var mu sync.Mutex
	var grants []time.Time
	w.onGrant = func(at time.Time) {
		mu.Lock()
		grants = append(grants, at)
		mu.Unlock()
	}

	jobs := make(chan struct{}, total)
	for i := 0; i < total; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var wg sync.WaitGroup
	errs := make(chan error, total)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if err := w.Acquire(context.Background()); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(grants) != total {
		t.Fatalf("got %d grants, want %d", len(grants), total)
	}
	return grants
}

func assertWindowBound(t *testing.T, grants []time.Time, limit int) {
	t.Helper()
	for i := limit; i < len(grants); i++ {
		if gap := grants[i].Sub(grants[i-limit]); gap < time.Second {
			t.Errorf("grants %d and %d are %v apart: more than %d permits in one second", i-limit, i, gap, limit)
		}
	}
}

func TestWindow_SlidingWindowBound(t *testing.T) {
	for _, smooth := range []bool{false, true} {
		name := "burst"
		if smooth {
			name = "smooth"
		}
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
			w, err := NewWindow(Config{Name: "pubchem", PerSecond: 4, Smooth: smooth, Clock: clock}, testLogger)
			if err != nil {
				t.Fatalf("NewWindow() error = %v", err)
			}

			grants := acquireConcurrently(t, w, 10, 40)

			assertWindowBound(t, grants, 4)
			if span := grants[len(grants)-1].Sub(grants[0]); span < 9*time.Second {
				t.Errorf("40 permits at 4/s spanned %v, want >= 9s", span)
			}
		})
	}
}

func TestWindow_RealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall-clock pacing test in short mode")
	}

	w, err := NewWindow(Config{Name: "pubchem", PerSecond: 4}, testLogger)
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	start := time.Now()
	grants := acquireConcurrently(t, w, 10, 40)
	elapsed := time.Since(start)

	assertWindowBound(t, grants, 4)
	if elapsed < 8900*time.Millisecond {
		t.Errorf("40 permits at 4/s took %v, want >= ~9s", elapsed)
	}
}

func TestWindow_FIFO(t *testing.T) {
	clock := newManualClock()
	w, err := NewWindow(Config{Name: "kegg", PerSecond: 1, Clock: clock}, testLogger)
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	// First permit is free and fills the window.
	if err := w.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const waiters = 5
	done := make(chan int, waiters)
	for i := 1; i <= waiters; i++ {
		go func(id int) {
			if err := w.Acquire(context.Background()); err == nil {
				done <- id
			}
		}(i)
		// Let the waiter queue up before the next one arrives.
		time.Sleep(20 * time.Millisecond)
	}

	for want := 1; want <= waiters; want++ {
		clock.fire(clock.next(t))
		select {
		case got := <-done:
			if got != want {
				t.Fatalf("permit %d went to waiter %d, want waiter %d", want, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never got a permit", want)
		}
	}
}

func TestWindow_CancelWhileWaiting(t *testing.T) {
	clock := newManualClock()
	w, err := NewWindow(Config{Name: "uniprot", PerSecond: 1, Clock: clock}, testLogger)
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	if err := w.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- w.Acquire(ctx) }()

	timer := clock.next(t)
	if timer.d != time.Second {
		t.Errorf("waiter sleeps %v, want 1s", timer.d)
	}
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Acquire() did not return")
	}

	// The cancelled waiter consumed nothing: the next caller still waits for
	// the first grant to age out, not for a second one.
	go func() { result <- w.Acquire(context.Background()) }()
	timer = clock.next(t)
	if timer.d != time.Second {
		t.Errorf("next waiter sleeps %v, want 1s", timer.d)
	}
	clock.fire(timer)
	if err := <-result; err != nil {
		t.Errorf("Acquire() error = %v", err)
	}
}

func TestNewRedisWindow_Validation(t *testing.T) {
	if _, err := NewRedisWindow(nil, DefaultConfig("kegg", 3), testLogger); err == nil {
		t.Error("NewRedisWindow(nil) error = nil, want error")
	}
}
