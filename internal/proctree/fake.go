package proctree

import (
	"context"
	"sync"
	"time"

	"github.com/nodewatch/agent/internal/model"
)

type identity struct {
	name  string
	start time.Time
}

// Fake is an in-memory ProcessTreeDiscovery for tests.
type Fake struct {
	mu             sync.Mutex
	byPID          map[int32][]model.ChildProc
	identities     map[int32]identity
	BeginPassCount int
}

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{
		byPID:      make(map[int32][]model.ChildProc),
		identities: make(map[int32]identity),
	}
}

func (f *Fake) Children(_ context.Context, rootPID int32) ([]model.ChildProc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byPID[rootPID], nil
}

func (f *Fake) Identify(_ context.Context, pid int32) (string, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.identities[pid]
	if !ok {
		return "", time.Time{}, false
	}
	return id.name, id.start, true
}

func (f *Fake) BeginPass() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BeginPassCount++
}

// Set is a convenience setter for tests, registering both the child list
// for rootPID and rootPID's own identity (so Identify(rootPID) succeeds).
func (f *Fake) Set(rootPID int32, name string, start time.Time, children []model.ChildProc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPID[rootPID] = children
	f.identities[rootPID] = identity{name: name, start: start}
	for _, c := range children {
		f.identities[c.PID] = identity{name: c.Name, start: c.StartTime}
	}
}

// Kill removes pid's identity, simulating process exit for EnsureProcess
// re-verification tests.
func (f *Fake) Kill(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.identities, pid)
}
