// Package proctree discovers the transitive set of descendant processes
// for a root pid (spec.md §4.5). Platform-specific enumeration strategies
// sit behind the ProcessTreeDiscovery interface; the Linux implementation
// walks /proc once per observer pass.
package proctree

import (
	"context"
	"time"

	"github.com/nodewatch/agent/internal/model"
)

// ProcessTreeDiscovery returns the transitive descendants of rootPID at
// the moment of query, as (name, pid, start-time) tuples.
type ProcessTreeDiscovery interface {
	Children(ctx context.Context, rootPID int32) ([]model.ChildProc, error)

	// Identify returns the current name/start-time of pid, so a caller can
	// re-verify a process it resolved earlier via EnsureProcess. ok is
	// false if pid no longer exists.
	Identify(ctx context.Context, pid int32) (name string, start time.Time, ok bool)

	// BeginPass resets any pass-scoped cache. Each observer calls this once
	// at the start of its Observe pass so that the first Children call
	// in a pass takes one /proc snapshot and every subsequent call in the
	// same pass reuses it (spec.md §5).
	BeginPass()
}

// EnsureProcess reports whether the process identified by (name, pid,
// startTime) is still the same process observed earlier — i.e. that the
// pid has not been recycled by an unrelated process since resolution. A
// mismatch on any field means the original process has exited.
func EnsureProcess(wantName string, wantPID int32, wantStart time.Time, gotName string, gotPID int32, gotStart time.Time) bool {
	if wantPID != gotPID {
		return false
	}
	if wantName != gotName {
		return false
	}
	// Start-time is compared at second resolution: the platform's process
	// table start-time field is frequently truncated to the second even
	// when the in-memory value carries sub-second precision.
	return wantStart.Truncate(time.Second).Equal(gotStart.Truncate(time.Second))
}
