package sampler

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/osprobe"
	"github.com/nodewatch/agent/internal/proctree"
)

func newTestSampler(probe *osprobe.Fake, tree *proctree.Fake) *ResourceSampler {
	return &ResourceSampler{
		Probe:    probe,
		Proctree: tree,
		Buffers:  NewBufferSet(),
		Log:      zap.NewNop(),
	}
}

func cpuThresholds() model.TargetThresholds {
	return model.TargetThresholds{
		CPUPct: model.Threshold{Warn: 50, Error: 80},
	}
}

func TestSamplePassSkipsTargetWhenParentNotLive(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)
	s.MaxParallel = 1

	start := time.Unix(1000, 0)
	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		Thresholds:       cpuThresholds(),
	}
	// Parent never registered with the fake proctree -> Identify fails.
	probe.Set(10, 42, 100, 50, 5, 5, 1, 1, 10)

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	buf := s.Buffers.Registry(MetricCPUPct).GetOrCreate(target.TargetID(), 0, false)
	if n := buf.Count(); n != 0 {
		t.Errorf("expected no samples recorded when parent identity cannot be re-verified, got %d", n)
	}
}

func TestSamplePassDropsChildThatExited(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)
	s.MaxParallel = 2

	start := time.Unix(1000, 0)
	childStart := time.Unix(1001, 0)
	children := []model.ChildProc{{Name: "helper.exe", PID: 11, StartTime: childStart}}
	tree.Set(10, "Code.exe", start, children)

	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		Children:         children,
		Thresholds:       cpuThresholds(),
	}
	probe.Set(10, 42, 100, 50, 5, 5, 1, 1, 10)
	probe.Set(11, 10, 20, 10, 2, 2, 0, 0, 0)

	// Child has since exited: its identity is gone from the fake proctree.
	tree.Kill(11)

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	parentBuf := s.Buffers.Registry(MetricCPUPct).GetOrCreate(target.TargetID(), 0, false)
	if n := parentBuf.Count(); n != 1 {
		t.Errorf("expected parent to still be sampled, got %d samples", n)
	}

	childID := model.ChildID(target.TargetID(), children[0])
	childBuf := s.Buffers.Registry(MetricCPUPct).GetOrCreate(childID, 0, false)
	if n := childBuf.Count(); n != 0 {
		t.Errorf("expected no samples recorded for an exited child, got %d", n)
	}
}

func TestSampleCPUSkipsNegativeReading(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)

	start := time.Unix(1000, 0)
	tree.Set(10, "Code.exe", start, nil)
	// -1 is the Fake's default for an unregistered pid (matches the
	// probe contract's "process vanished or access denied" failure value).

	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		Thresholds:       cpuThresholds(),
	}

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	buf := s.Buffers.Registry(MetricCPUPct).GetOrCreate(target.TargetID(), 0, false)
	if n := buf.Count(); n != 0 {
		t.Errorf("expected a -1 CPU reading to be skipped, not recorded, got %d samples", n)
	}
}

func TestSampleCPUClampsAboveHundred(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)

	start := time.Unix(1000, 0)
	tree.Set(10, "Code.exe", start, nil)
	probe.CPUPercent[10] = 150

	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		Thresholds:       cpuThresholds(),
	}

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	buf := s.Buffers.Registry(MetricCPUPct).GetOrCreate(target.TargetID(), 0, false)
	if n := buf.Count(); n != 1 {
		t.Fatalf("expected exactly one sample, got %d", n)
	}
	if avg := buf.Avg(); avg != 100 {
		t.Errorf("expected CPU reading clamped to 100, got %v", avg)
	}
}

func TestWorkingSetFastPathThresholdGatesNameHint(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)
	s.WorkingSetFastPathThreshold = 2

	start := time.Unix(1000, 0)
	th := model.TargetThresholds{WorkingSetMB: model.Threshold{Warn: 100}}

	mkTarget := func(pid int32, name string) model.ServiceTarget {
		tree.Set(pid, name, start, nil)
		probe.WorkingSetMB[pid] = 64
		return model.ServiceTarget{
			AppName:          "fabric:/App1",
			HostPID:          pid,
			HostProcessName:  name,
			HostProcessStart: start,
			Thresholds:       th,
		}
	}

	// Only two processes share the name "common.exe" -> at or below
	// threshold, no name hint should be passed.
	below := []model.ServiceTarget{
		mkTarget(10, "common.exe"),
		mkTarget(11, "common.exe"),
	}
	s.SamplePass(context.Background(), below)
	if hint := probe.WorkingSetNameHints[10]; hint != "" {
		t.Errorf("expected no name hint at or below threshold, got %q", hint)
	}

	// Three processes share the name "popular.exe" -> above threshold,
	// the fast-path name hint should be passed.
	above := []model.ServiceTarget{
		mkTarget(20, "popular.exe"),
		mkTarget(21, "popular.exe"),
		mkTarget(22, "popular.exe"),
	}
	s.SamplePass(context.Background(), above)
	if hint := probe.WorkingSetNameHints[20]; hint != "popular.exe" {
		t.Errorf("expected fast-path name hint above threshold, got %q", hint)
	}
}

func TestMonitorDurationZeroTakesSingleSample(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)
	s.MonitorDuration = 0

	start := time.Unix(1000, 0)
	tree.Set(10, "Code.exe", start, nil)
	probe.CPUPercent[10] = 33

	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		Thresholds:       cpuThresholds(),
	}

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	buf := s.Buffers.Registry(MetricCPUPct).GetOrCreate(target.TargetID(), 0, false)
	if n := buf.Count(); n != 1 {
		t.Errorf("MonitorDuration=0 should take exactly one sample, got %d", n)
	}
}

func TestNoBufferAllocatedForUnmonitoredMetric(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)

	start := time.Unix(1000, 0)
	tree.Set(10, "Code.exe", start, nil)
	probe.CPUPercent[10] = 10

	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		Thresholds:       cpuThresholds(), // only CPU monitored
	}

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	if buf := s.Buffers.Registry(MetricHandles).Get(target.TargetID()); buf != nil {
		t.Errorf("expected no buffer allocated for an unmonitored metric, got one with %d samples", buf.Count())
	}
}

func TestRGMemoryPctSkippedWhenDisabled(t *testing.T) {
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	s := newTestSampler(probe, tree)

	start := time.Unix(1000, 0)
	tree.Set(10, "Code.exe", start, nil)
	probe.WorkingSetMB[10] = 64

	target := model.ServiceTarget{
		AppName:          "fabric:/App1",
		HostPID:          10,
		HostProcessName:  "Code.exe",
		HostProcessStart: start,
		RGEnabled:        false,
		Thresholds: model.TargetThresholds{
			RGMemoryPct: model.Threshold{Warn: 80},
		},
	}

	s.SamplePass(context.Background(), []model.ServiceTarget{target})

	buf := s.Buffers.Registry(MetricRGMemoryPct).GetOrCreate(target.TargetID(), 0, false)
	if n := buf.Count(); n != 0 {
		t.Errorf("expected no RG-memory-percent sample when RG is disabled for the target, got %d", n)
	}
}
