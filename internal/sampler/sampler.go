package sampler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/osprobe"
	"github.com/nodewatch/agent/internal/proctree"
)

// ResourceSampler samples the configured metrics for each ServiceTarget's
// parent process and live descendants, writing results into per-metric
// SampleBuffers (spec.md §4.6).
type ResourceSampler struct {
	Probe    osprobe.OsProbe
	Proctree proctree.ProcessTreeDiscovery
	Buffers  *BufferSet
	Log      *zap.Logger

	// MonitorDuration is the sampling window for CPU and working-set.
	// Zero means "single sample, no loop".
	MonitorDuration time.Duration
	// SampleInterval is the delay between samples within MonitorDuration.
	SampleInterval time.Duration

	// MaxParallel bounds concurrent target sampling (spec.md §5).
	MaxParallel int

	// WorkingSetFastPathThreshold is the number of same-named processes
	// in one pass above which a name hint is passed to the probe so it
	// can opt into its fast working-set query path (spec.md §4.2,
	// default 50 — see internal/config.AgentConfig).
	WorkingSetFastPathThreshold int
}

// proc is one member of a target's live process set (parent or child).
type proc struct {
	pid      int32
	name     string
	bufferID string // TargetId for the parent, ChildId for a child
}

// SamplePass samples every target, bounded by MaxParallel concurrent
// workers. Errors sampling one target do not abort the others — the
// sampler absorbs errors per-target (spec.md §7).
func (s *ResourceSampler) SamplePass(ctx context.Context, targets []model.ServiceTarget) {
	maxParallel := s.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	nameCounts := make(map[string]int)
	for _, t := range targets {
		nameCounts[t.HostProcessName]++
		for _, c := range t.Children {
			nameCounts[c.Name]++
		}
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i := range targets {
		t := targets[i]
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.sampleTarget(ctx, t, nameCounts)
		}()
	}
	wg.Wait()
}

// sampleTarget implements spec.md §4.6 steps 1-8 for one target.
func (s *ResourceSampler) sampleTarget(ctx context.Context, t model.ServiceTarget, nameCounts map[string]int) {
	targetID := t.TargetID()

	if !s.ensureParentLive(ctx, t) {
		s.Log.Debug("sampler: parent process no longer live, skipping target", zap.String("target", targetID))
		return
	}

	procs := s.liveProcs(ctx, t, targetID)
	if len(procs) == 0 {
		return
	}

	s.allocateAndClear(t, procs)

	for _, p := range procs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sampleOneProcess(ctx, t, p, nameCounts)
	}
}

// ensureParentLive implements step 1.
func (s *ResourceSampler) ensureParentLive(ctx context.Context, t model.ServiceTarget) bool {
	name, start, ok := s.Proctree.Identify(ctx, t.HostPID)
	if !ok {
		return false
	}
	return proctree.EnsureProcess(t.HostProcessName, t.HostPID, t.HostProcessStart, name, t.HostPID, start)
}

// liveProcs implements step 2: procs = {parent} ∪ liveChildren(parent).
// A child that has exited since resolution (or whose identity no longer
// matches) is dropped — its partial data for this pass is discarded.
func (s *ResourceSampler) liveProcs(ctx context.Context, t model.ServiceTarget, targetID string) []proc {
	procs := make([]proc, 0, 1+len(t.Children))
	procs = append(procs, proc{pid: t.HostPID, name: t.HostProcessName, bufferID: targetID})

	for _, c := range t.Children {
		select {
		case <-ctx.Done():
			return procs
		default:
		}
		name, start, ok := s.Proctree.Identify(ctx, c.PID)
		if !ok || !proctree.EnsureProcess(c.Name, c.PID, c.StartTime, name, c.PID, start) {
			continue
		}
		procs = append(procs, proc{pid: c.PID, name: c.Name, bufferID: model.ChildID(targetID, c)})
	}
	return procs
}

// allocateAndClear implements step 3: allocate per-metric buffers on
// first use, Clear existing buffers on subsequent passes, for every
// metric this target actually monitors.
func (s *ResourceSampler) allocateAndClear(t model.ServiceTarget, procs []proc) {
	for _, kind := range AllMetricKinds {
		if !metricMonitored(t.Thresholds, kind) {
			continue
		}
		reg := s.Buffers.Registry(kind)
		for _, p := range procs {
			reg.GetOrCreate(p.bufferID, 0, false).Clear()
		}
	}
}

func metricMonitored(th model.TargetThresholds, kind MetricKind) bool {
	switch kind {
	case MetricCPUPct:
		return th.CPUPct.Monitored()
	case MetricWorkingSetMB:
		return th.WorkingSetMB.Monitored()
	case MetricWorkingSetPct:
		return th.WorkingSetPct.Monitored()
	case MetricPrivateBytesMB:
		return th.PrivateBytesMB.Monitored()
	case MetricPrivateBytesPct:
		return th.PrivateBytesPct.Monitored()
	case MetricActiveTCPPorts:
		return th.ActiveTCPPorts.Monitored()
	case MetricEphemeralTCPPorts:
		return th.EphemeralTCPPorts.Monitored()
	case MetricEphemeralTCPPortsPct:
		return th.EphemeralTCPPortsPct.Monitored()
	case MetricHandles:
		return th.Handles.Monitored()
	case MetricThreads:
		return th.Threads.Monitored()
	case MetricRGMemoryPct:
		return th.RGMemoryPct.Monitored()
	}
	return false
}

// sampleOneProcess implements steps 4-8 for one process (parent or
// child) within a target.
func (s *ResourceSampler) sampleOneProcess(ctx context.Context, t model.ServiceTarget, p proc, nameCounts map[string]int) {
	th := t.Thresholds

	if th.CPUPct.Monitored() {
		s.sampleCPU(ctx, p)
	}
	if th.WorkingSetMB.Monitored() || th.WorkingSetPct.Monitored() {
		s.sampleWorkingSet(ctx, p, th, nameCounts[p.name])
	}
	if th.PrivateBytesMB.Monitored() || th.PrivateBytesPct.Monitored() {
		s.samplePrivateBytes(p, th)
	}
	if th.ActiveTCPPorts.Monitored() {
		s.Buffers.Registry(MetricActiveTCPPorts).GetOrCreate(p.bufferID, 0, false).
			Add(float64(s.Probe.GetActiveTCPPortCount(p.pid)))
	}
	if th.EphemeralTCPPorts.Monitored() {
		s.Buffers.Registry(MetricEphemeralTCPPorts).GetOrCreate(p.bufferID, 0, false).
			Add(float64(s.Probe.GetActiveEphemeralPortCount(p.pid)))
	}
	if th.EphemeralTCPPortsPct.Monitored() {
		s.Buffers.Registry(MetricEphemeralTCPPortsPct).GetOrCreate(p.bufferID, 0, false).
			Add(s.Probe.GetEphemeralPortCountPct(p.pid))
	}
	if th.Handles.Monitored() {
		s.Buffers.Registry(MetricHandles).GetOrCreate(p.bufferID, 0, false).
			Add(float64(s.Probe.GetHandleCount(p.pid)))
	}
	if th.Threads.Monitored() {
		s.Buffers.Registry(MetricThreads).GetOrCreate(p.bufferID, 0, false).
			Add(float64(s.Probe.GetThreadCount(p.pid)))
	}
	if th.RGMemoryPct.Monitored() && t.RGEnabled && t.RGMemoryLimitMB > 0 {
		s.sampleRGMemoryPct(p, t.RGMemoryLimitMB)
	}
}

// sampleCPU implements steps 5-6: one untimed warm-up call, then sample
// in a loop for MonitorDuration, clamping every reading to [0,100]. A
// reading of -1 ("process vanished or access denied") is skipped, not
// recorded (spec.md §9 Open Question resolution).
func (s *ResourceSampler) sampleCPU(ctx context.Context, p proc) {
	s.Probe.GetCPUPercent(p.pid) // warm-up, result discarded

	reg := s.Buffers.Registry(MetricCPUPct)
	buf := reg.GetOrCreate(p.bufferID, 0, false)

	s.sampleLoop(ctx, func() {
		v := s.Probe.GetCPUPercent(p.pid)
		if v < 0 {
			return
		}
		if v > 100 {
			v = 100
		}
		buf.Add(v)
	})
}

// sampleWorkingSet samples working-set MB (and, when percent thresholds
// are configured, derives working-set percent from the same readings)
// over MonitorDuration. sameNameCount is the number of processes sharing
// p.name across this pass; above WorkingSetFastPathThreshold the probe is
// given a name hint so it can opt into its direct /proc/<pid>/status read
// instead of one gopsutil handle per process (spec.md §4.2, §8 "50+ same-named
// processes" boundary).
func (s *ResourceSampler) sampleWorkingSet(ctx context.Context, p proc, th model.TargetThresholds, sameNameCount int) {
	mbBuf := s.Buffers.Registry(MetricWorkingSetMB).GetOrCreate(p.bufferID, 0, false)

	var physTotalMB float64
	if th.WorkingSetPct.Monitored() {
		phys := s.Probe.GetPhysicalMemoryInfo()
		physTotalMB = phys.TotalGB * 1024
	}
	nameHint := ""
	if sameNameCount > s.WorkingSetFastPathThreshold {
		nameHint = p.name
	}

	s.sampleLoop(ctx, func() {
		mb := s.Probe.GetWorkingSetMB(p.pid, nameHint, false)
		mbBuf.Add(mb)
		if th.WorkingSetPct.Monitored() && physTotalMB > 0 {
			pct := mb * 100 / physTotalMB
			s.Buffers.Registry(MetricWorkingSetPct).GetOrCreate(p.bufferID, 0, false).Add(pct)
		}
	})
}

// samplePrivateBytes implements the point-in-time private-bytes sample
// plus its derived percent (spec.md §4.6 step 7).
func (s *ResourceSampler) samplePrivateBytes(p proc, th model.TargetThresholds) {
	mb := s.Probe.GetPrivateBytesMB(p.pid)
	s.Buffers.Registry(MetricPrivateBytesMB).GetOrCreate(p.bufferID, 0, false).Add(mb)

	if th.PrivateBytesPct.Monitored() {
		commitLimitMB := s.Probe.GetCommitLimitGB() * 1024
		if commitLimitMB > 0 {
			pct := mb * 100 / commitLimitMB
			s.Buffers.Registry(MetricPrivateBytesPct).GetOrCreate(p.bufferID, 0, false).Add(pct)
		}
	}
}

// sampleRGMemoryPct implements the point-in-time RG-memory-percent sample.
func (s *ResourceSampler) sampleRGMemoryPct(p proc, rgLimitMB float64) {
	mb := s.Probe.GetWorkingSetMB(p.pid, "", true)
	pct := mb * 100 / rgLimitMB
	s.Buffers.Registry(MetricRGMemoryPct).GetOrCreate(p.bufferID, 0, false).Add(pct)
}

// sampleLoop runs fn once immediately, then repeats every SampleInterval
// until MonitorDuration has elapsed or ctx is cancelled. MonitorDuration
// of zero means "single sample, no loop".
func (s *ResourceSampler) sampleLoop(ctx context.Context, fn func()) {
	fn()
	if s.MonitorDuration <= 0 {
		return
	}

	interval := s.SampleInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	deadline := time.Now().Add(s.MonitorDuration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				return
			}
			fn()
		}
	}
}
