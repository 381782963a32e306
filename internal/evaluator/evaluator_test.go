package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/dumpbudget"
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/sampler"
	"github.com/nodewatch/agent/internal/telemetry"
)

type fakeDumper struct {
	mu    sync.Mutex
	calls []int32
}

func (f *fakeDumper) RequestDump(_ context.Context, pid int32, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pid)
	return nil
}

func (f *fakeDumper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEvaluator() (*Evaluator, *sampler.BufferSet, *health.Fake) {
	buffers := sampler.NewBufferSet()
	store := health.NewFake()
	sink := telemetry.NewFake()
	reporter := health.NewReporter(store, sink, zap.NewNop())
	ev := NewEvaluator(buffers, reporter, sink, zap.NewNop())
	ev.ObserverName = "AppObserver"
	ev.Code = "RM"
	return ev, buffers, store
}

func cpuTarget(pid int32, warn, errLimit float64) model.ServiceTarget {
	return model.ServiceTarget{
		AppName:          "fabric:/App1",
		ServiceName:      "svc1",
		HostPID:          pid,
		HostProcessName:  "Code.exe",
		HostProcessStart: time.Unix(1000, 0),
		Thresholds: model.TargetThresholds{
			CPUPct: model.Threshold{Warn: warn, Error: errLimit},
		},
	}
}

// Scenario 1 (spec.md §8): parent at 70% CPU, warn=60/err=80 -> one
// Warning event with a property naming CpuTime, value ~70.
func TestScenario1WarningOnParentOnly(t *testing.T) {
	ev, buffers, store := newTestEvaluator()
	target := cpuTarget(1000, 60, 80)
	buffers.Registry(sampler.MetricCPUPct).GetOrCreate(target.TargetID(), 0, false).Add(70)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	events := store.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one health event, got %d", len(events))
	}
	if events[0].State != health.StateWarning {
		t.Errorf("expected Warning, got %v", events[0].State)
	}
	if events[0].Value < 69 || events[0].Value > 71 {
		t.Errorf("expected value ~70, got %v", events[0].Value)
	}
	if events[0].Metric != "CpuTime" {
		t.Errorf("expected property to reference CpuTime, got %v", events[0].Metric)
	}
}

// Scenario 2: adding a 20%-CPU child brings family to 90 -> one Error
// event, retiring the prior Warning (same key transitions Warning->Error,
// only one event emitted per pass since the tracker starts fresh... the
// retirement here is the Warning->Error transition itself, not a
// separate Ok).
func TestScenario2ChildPushesFamilyIntoError(t *testing.T) {
	ev, buffers, store := newTestEvaluator()
	target := cpuTarget(1000, 60, 80)
	child := model.ChildProc{Name: "helper.exe", PID: 1001, StartTime: time.Unix(1000, 0)}
	target.Children = []model.ChildProc{child}

	reg := buffers.Registry(sampler.MetricCPUPct)
	reg.GetOrCreate(target.TargetID(), 0, false).Add(70)

	// First pass: parent only, no child sample yet -> Warning.
	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{{
		AppName: target.AppName, ServiceName: target.ServiceName,
		HostPID: target.HostPID, HostProcessName: target.HostProcessName,
		HostProcessStart: target.HostProcessStart, Thresholds: target.Thresholds,
	}}, time.Minute)

	// Second pass: parent + child sum to 90 -> Error.
	reg.GetOrCreate(target.TargetID(), 0, false).Add(70)
	reg.GetOrCreate(model.ChildID(target.TargetID(), child), 0, false).Add(20)
	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	events := store.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events (Warning then Error), got %d", len(events))
	}
	if events[0].State != health.StateWarning {
		t.Errorf("expected first event Warning, got %v", events[0].State)
	}
	if events[1].State != health.StateError {
		t.Errorf("expected second event Error, got %v", events[1].State)
	}
	if events[1].Value < 89 || events[1].Value > 91 {
		t.Errorf("expected family value ~90, got %v", events[1].Value)
	}
}

// Invariant 1: a non-empty buffer produces exactly one event.
func TestInvariantNonEmptyBufferProducesExactlyOneEvent(t *testing.T) {
	ev, buffers, store := newTestEvaluator()
	target := cpuTarget(1000, 60, 80)
	buffers.Registry(sampler.MetricCPUPct).GetOrCreate(target.TargetID(), 0, false).Add(90)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	if len(store.Snapshot()) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(store.Snapshot()))
	}
}

// Invariant 2: an unmonitored metric (zero threshold) never allocates a
// buffer and never produces an event.
func TestInvariantUnmonitoredMetricNoEvent(t *testing.T) {
	ev, buffers, store := newTestEvaluator()
	target := model.ServiceTarget{
		AppName: "fabric:/App1", ServiceName: "svc1",
		HostPID: 1000, HostProcessName: "Code.exe", HostProcessStart: time.Unix(1000, 0),
		// No thresholds configured at all.
	}
	// Simulate a buffer existing anyway (should not happen via the real
	// sampler, but the evaluator must still not emit without a monitored
	// threshold).
	buffers.Registry(sampler.MetricCPUPct).GetOrCreate(target.TargetID(), 0, false).Add(99)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	if len(store.Snapshot()) != 0 {
		t.Errorf("expected no events for an unmonitored metric, got %d", len(store.Snapshot()))
	}
}

// Invariant 1 (spec.md §8): every pass that evaluates a non-empty buffer
// emits exactly one health event, whether or not the state changed from
// the previous pass — so four passes over a non-empty buffer yield four
// events (Warn, Warn again, Error, Ok), even though the second pass is
// not itself a state transition.
func TestInvariantHysteresisSequenceProducesExpectedEvents(t *testing.T) {
	ev, buffers, store := newTestEvaluator()
	target := cpuTarget(1000, 60, 80)
	reg := buffers.Registry(sampler.MetricCPUPct)

	readings := []float64{65, 70, 85, 10}
	for _, v := range readings {
		reg.GetOrCreate(target.TargetID(), 0, false).Clear()
		reg.GetOrCreate(target.TargetID(), 0, false).Add(v)
		ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)
	}

	events := store.Snapshot()
	if len(events) != 4 {
		t.Fatalf("expected 4 events (Warn, Warn, Error, Ok), got %d", len(events))
	}
	nonOk := 0
	for _, e := range events[:len(events)-1] {
		if e.State == health.StateOk {
			t.Errorf("expected only the last event to be Ok")
		} else {
			nonOk++
		}
	}
	if nonOk != 3 {
		t.Errorf("expected 3 non-Ok events, got %d", nonOk)
	}
	if events[len(events)-1].State != health.StateOk {
		t.Errorf("expected final event to be Ok, got %v", events[len(events)-1].State)
	}
}

// Invariant 3: family = parent + children, zero children -> family =
// parent.
func TestInvariantFamilyEqualsParentWhenNoChildren(t *testing.T) {
	ev, buffers, store := newTestEvaluator()
	target := cpuTarget(1000, 60, 80)
	buffers.Registry(sampler.MetricCPUPct).GetOrCreate(target.TargetID(), 0, false).Add(65)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	events := store.Snapshot()
	if len(events) != 1 || events[0].Value < 64 || events[0].Value > 66 {
		t.Fatalf("expected family value ~65 with no children, got %+v", events)
	}
}

func TestDumpRequestedOnErrorWhenEnabledAndBudgetAvailable(t *testing.T) {
	ev, buffers, _ := newTestEvaluator()
	dumper := &fakeDumper{}
	ev.Dumper = dumper
	ev.Budget = dumpbudget.New(1, time.Hour)
	defer ev.Budget.Close()

	target := cpuTarget(1000, 60, 80)
	target.Thresholds.DumpOnError = true
	buffers.Registry(sampler.MetricCPUPct).GetOrCreate(target.TargetID(), 0, false).Add(95)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	if dumper.callCount() != 1 {
		t.Errorf("expected exactly one dump request, got %d", dumper.callCount())
	}
}

func TestDumpNotRequestedWhenFlagDisabled(t *testing.T) {
	ev, buffers, _ := newTestEvaluator()
	dumper := &fakeDumper{}
	ev.Dumper = dumper
	ev.Budget = dumpbudget.New(1, time.Hour)
	defer ev.Budget.Close()

	target := cpuTarget(1000, 60, 80)
	buffers.Registry(sampler.MetricCPUPct).GetOrCreate(target.TargetID(), 0, false).Add(95)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	if dumper.callCount() != 0 {
		t.Errorf("expected no dump requests when dumpOnError is disabled, got %d", dumper.callCount())
	}
}

func TestChildBuffersAreGarbageCollectedAfterEvaluation(t *testing.T) {
	ev, buffers, _ := newTestEvaluator()
	target := cpuTarget(1000, 60, 80)
	child := model.ChildProc{Name: "helper.exe", PID: 1001, StartTime: time.Unix(1000, 0)}
	target.Children = []model.ChildProc{child}

	reg := buffers.Registry(sampler.MetricCPUPct)
	reg.GetOrCreate(target.TargetID(), 0, false).Add(50)
	childID := model.ChildID(target.TargetID(), child)
	reg.GetOrCreate(childID, 0, false).Add(10)

	ev.Evaluate(context.Background(), "node1", []model.ServiceTarget{target}, time.Minute)

	if reg.Get(childID) != nil {
		t.Error("expected child buffer to be garbage-collected after evaluation")
	}
	if reg.Get(target.TargetID()) == nil {
		t.Error("expected parent buffer to survive evaluation")
	}
}
