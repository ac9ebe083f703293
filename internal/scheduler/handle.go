package scheduler

import (
	"context"
	"sync"
)

// Outcome is the state of a loop.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

// Handle controls one running loop.
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	outcome Outcome
	pages   int
}

func newHandle() *Handle {
	return &Handle{stop: make(chan struct{}), done: make(chan struct{})}
}

// Cancel asks the loop to stop before its next tick. It is safe to call
// more than once and has no effect after the loop has finished.
func (h *Handle) Cancel() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed when the loop has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the loop finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.Outcome(), nil
	case <-ctx.Done():
		return h.Outcome(), ctx.Err()
	}
}

// Outcome reports whether the loop is running, completed or was cancelled.
func (h *Handle) Outcome() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Pages reports how many pages the loop has processed.
func (h *Handle) Pages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pages
}

// Running reports whether the loop is still active.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) addPage() {
	h.mu.Lock()
	h.pages++
	h.mu.Unlock()
}

func (h *Handle) finish(o Outcome) {
	h.mu.Lock()
	h.outcome = o
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}
