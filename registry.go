package rdpbridge

import (
	"context"
	"fmt"
	"sync"
)

type SessionState int

const (
	Idle SessionState = iota
	Busy
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Registry records which handles have a live connection. A handle without
// an entry is idle.
//
// All state lives behind one mutex. Every change closes the current changed
// channel and installs a fresh one, waking every waiter; waiters then
// re-check their own handle.
type Registry struct {
	mu      sync.Mutex
	busy    map[Handle]struct{}
	changed chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		busy:    make(map[Handle]struct{}),
		changed: make(chan struct{}),
	}
}

func (r *Registry) IsBusy(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.busy[h]
	return ok
}

func (r *Registry) State(h Handle) SessionState {
	if r.IsBusy(h) {
		return Busy
	}
	return Idle
}

// MarkBusy records an established connection. It reports false if the
// handle was already busy.
func (r *Registry) MarkBusy(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.busy[h]; ok {
		return false
	}
	r.busy[h] = struct{}{}
	r.notifyLocked()
	return true
}

// Clear removes the entry for h and wakes all waiters. Clearing an idle
// handle still wakes waiters.
func (r *Registry) Clear(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, h)
	r.notifyLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.busy)
}

// WaitIdle blocks until h has no busy entry. If ctx ends first it returns an
// error wrapping both ErrWaitInterrupted and the context error.
func (r *Registry) WaitIdle(ctx context.Context, h Handle) error {
	for {
		r.mu.Lock()
		_, busy := r.busy[h]
		changed := r.changed
		r.mu.Unlock()

		if !busy {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: handle %s: %w", ErrWaitInterrupted, h, ctx.Err())
		}
	}
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
