package pipeline

import (
	"context"
	"sync"

	"github.com/Sternrassler/diseasenet/pkg/model"
)

// Result is the outcome of a successful search.
type Result struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`

	// Disease is the best match the genes were collected for.
	Disease model.DiseaseMatch `json:"disease"`

	// Matches are all accepted matches, best first.
	Matches []model.DiseaseMatch `json:"matches"`

	// Rows holds one row per gene in collection order.
	Rows []model.ResultRow `json:"rows"`
}

// Event is one item of a run's event stream. Exactly one event has Done set:
// the last one, carrying either Result or Err.
type Event struct {
	Progress model.ProgressState
	Done     bool
	Result   *Result
	Err      error
}

// Run is the handle of one search in progress.
type Run struct {
	id     string
	query  string
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.RWMutex
	progress func() model.ProgressState
	result   *Result
	err      error
}

func newRun(id, query string, buffer int, cancel context.CancelFunc) *Run {
	return &Run{
		id:     id,
		query:  query,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Query returns the query the run was started with.
func (r *Run) Query() string {
	return r.query
}

// Events returns the event stream. Progress events are best effort: a slow
// reader may miss intermediate ones. The terminal event is always delivered,
// after which the channel is closed.
func (r *Run) Events() <-chan Event {
	return r.events
}

// CurrentProgress returns the latest progress. Before genes are collected it
// reports zero genes.
func (r *Run) CurrentProgress() model.ProgressState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.progress == nil {
		return model.ProgressState{}
	}
	return r.progress()
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops the run. Wait then returns the cancellation error.
func (r *Run) Cancel() {
	r.cancel()
}

func (r *Run) trackProgress(progress func() model.ProgressState) {
	r.mu.Lock()
	r.progress = progress
	r.mu.Unlock()
}

// publish sends ev, dropping the oldest buffered event when the reader is
// behind. Only the coordinator publishes.
func (r *Run) publish(ev Event) {
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
		default:
		}
	}
}

// finish records the terminal state and delivers the terminal event.
func (r *Run) finish(result *Result, err error) {
	r.mu.Lock()
	r.result, r.err = result, err
	r.mu.Unlock()

	r.publish(Event{Progress: r.CurrentProgress(), Done: true, Result: result, Err: err})
	close(r.events)
	close(r.done)
}
