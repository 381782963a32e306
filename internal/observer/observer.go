// Package observer implements the Observer contract and the two
// concrete observers the runner schedules (spec.md §4.9-§4.10): an
// AppObserver over the user-configured target list, and a
// SystemObserver over a fixed system-service process-name list.
package observer

import (
	"context"
	"sync"
	"time"
)

// Observer is one scheduled unit of work the runner dispatches
// sequentially each pass (spec.md §4.9).
type Observer interface {
	Name() string
	Enabled() bool
	RunInterval() time.Duration
	LastRunAt() time.Time
	// IsUnhealthy is sticky: once the runner marks it true on timeout,
	// it never resets for the life of the process (spec.md §4.11).
	IsUnhealthy() bool
	Observe(ctx context.Context) error
}

// runState is the mutable scheduling bookkeeping shared by both
// concrete observers, guarded by its own mutex so the runner can read
// LastRunAt/IsUnhealthy concurrently with an in-flight Observe call.
type runState struct {
	mu          sync.Mutex
	lastRunAt   time.Time
	isUnhealthy bool
}

func (s *runState) markRunStart(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunAt = t
}

func (s *runState) getLastRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunAt
}

// markUnhealthy sets the sticky unhealthy flag. The runner reaches it on
// observer timeout (spec.md §4.11) through each concrete observer's
// exported MarkUnhealthy method, via the Quarantinable interface, since
// the runner package holds no concrete observer type.
func (s *runState) markUnhealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isUnhealthy = true
}

func (s *runState) getUnhealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isUnhealthy
}

// Quarantinable is implemented by both concrete observers so the
// runner can mark them unhealthy on timeout without knowing their
// concrete type.
type Quarantinable interface {
	MarkUnhealthy()
}
