package evaluator

import (
	"sync"

	"github.com/nodewatch/agent/internal/health"
)

// stateKey identifies one (target, metric) pair the evaluator tracks
// hysteresis for across passes.
type stateKey struct {
	targetID string
	metric   string
}

// stateTracker holds the last-recorded health.State per (target, metric)
// so the evaluator can tell whether a fresh comparison is a state
// transition (spec.md §4.7 step 3). The evaluator reports an event every
// pass regardless; the transition result only decides whether a dump is
// requested. Unlike the teacher's six-state
// escalation.ProcessState, a key moves freely between Ok/Warning/Error
// in either direction every pass — there is no decay timer, since each
// pass already reflects a fresh sampling window.
type stateTracker struct {
	mu     sync.Mutex
	states map[stateKey]health.State
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[stateKey]health.State)}
}

// transition records newState for key and reports whether it differs
// from what was last recorded (the zero value, absent from the map,
// counts as Ok — a target's first pass is a transition only if it starts
// non-Ok).
func (t *stateTracker) transition(key stateKey, newState health.State) (changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.states[key]
	if !ok {
		prev = health.StateOk
	}
	t.states[key] = newState
	return prev != newState
}

// forget removes a key so its hysteresis state does not carry over to a
// future, unrelated target that happens to reuse the same TargetId.
// Nothing in the evaluator calls it: the keys of a target that disappears
// from a pass stay tracked.
func (t *stateTracker) forget(key stateKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}
