package proctree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/model"
)

// procInfo is one row of a /proc snapshot: enough to both build the
// parent->children index and populate model.ChildProc.
type procInfo struct {
	pid       int32
	ppid      int32
	name      string
	startTime int64 // epoch millis, as gopsutil reports it
}

// Linux walks /proc once per observer pass (via BeginPass + a
// sync.Once-guarded lazy snapshot) and answers every Children call within
// that pass from the cached table, per spec.md §5's "process snapshots
// acquired once per pass" requirement.
type Linux struct {
	log *zap.Logger

	mu       sync.Mutex
	once     *sync.Once
	children map[int32][]procInfo
	snapErr  error
}

// NewLinux constructs a Linux process-tree discovery. BeginPass must be
// called before the first Children call of each pass.
func NewLinux(log *zap.Logger) *Linux {
	l := &Linux{log: log}
	l.BeginPass()
	return l
}

func (l *Linux) BeginPass() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.once = &sync.Once{}
	l.children = nil
	l.snapErr = nil
}

func (l *Linux) snapshot(ctx context.Context) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		l.snapErr = fmt.Errorf("proctree: list processes: %w", err)
		return
	}

	index := make(map[int32][]procInfo)
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		createMs, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			continue
		}
		index[ppid] = append(index[ppid], procInfo{
			pid:       p.Pid,
			ppid:      ppid,
			name:      name,
			startTime: createMs,
		})
	}
	l.children = index
}

// Children returns the transitive descendants of rootPID found in the
// current pass's snapshot.
func (l *Linux) Children(ctx context.Context, rootPID int32) ([]model.ChildProc, error) {
	l.mu.Lock()
	once := l.once
	l.mu.Unlock()

	once.Do(func() { l.snapshot(ctx) })

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapErr != nil {
		return nil, l.snapErr
	}

	var out []model.ChildProc
	l.walk(rootPID, &out)
	return out, nil
}

// Identify queries pid directly rather than through the pass-scoped
// snapshot: EnsureProcess re-verification happens right before sampling,
// after the snapshot used for descendant discovery may already be stale.
func (l *Linux) Identify(ctx context.Context, pid int32) (string, time.Time, bool) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", time.Time{}, false
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", time.Time{}, false
	}
	createMs, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return "", time.Time{}, false
	}
	return name, time.UnixMilli(createMs), true
}

func (l *Linux) walk(pid int32, out *[]model.ChildProc) {
	for _, child := range l.children[pid] {
		*out = append(*out, model.ChildProc{
			Name:      child.name,
			PID:       child.pid,
			StartTime: time.UnixMilli(child.startTime),
		})
		l.walk(child.pid, out)
	}
}
