package observer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/clusterquery"
	"github.com/nodewatch/agent/internal/evaluator"
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/osprobe"
	"github.com/nodewatch/agent/internal/proctree"
	"github.com/nodewatch/agent/internal/sampler"
	"github.com/nodewatch/agent/internal/target"
	"github.com/nodewatch/agent/internal/telemetry"
)

func newFixture() (*sampler.ResourceSampler, *evaluator.Evaluator, *health.Fake, *osprobe.Fake, *proctree.Fake) {
	buffers := sampler.NewBufferSet()
	probe := osprobe.NewFake()
	tree := proctree.NewFake()
	smp := &sampler.ResourceSampler{
		Probe:    probe,
		Proctree: tree,
		Buffers:  buffers,
		Log:      zap.NewNop(),
	}
	store := health.NewFake()
	sink := telemetry.NewFake()
	reporter := health.NewReporter(store, sink, zap.NewNop())
	ev := evaluator.NewEvaluator(buffers, reporter, sink, zap.NewNop())
	ev.ObserverName = "AppObserver"
	ev.Code = "RM"
	return smp, ev, store, probe, tree
}

func TestAppObserverMissingTargetsFileReportsConfigWarning(t *testing.T) {
	smp, ev, store, _, _ := newFixture()
	q := clusterquery.NewFake()
	resolver := &target.Resolver{Query: q}

	o := NewAppObserver("node1", zap.NewNop(), resolver, smp, ev, ev.Reporter,
		filepath.Join(t.TempDir(), "missing.json"), true, time.Minute)

	if err := o.Observe(context.Background()); err != nil {
		t.Fatalf("Observe returned an error, want nil (absorbed per spec.md §7): %v", err)
	}

	events := store.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one config-warning event, got %d", len(events))
	}
	if events[0].State != health.StateWarning {
		t.Errorf("expected Warning, got %v", events[0].State)
	}
	if events[0].Property != "TargetConfiguration" {
		t.Errorf("expected TargetConfiguration property, got %v", events[0].Property)
	}
}

func TestAppObserverHappyPathSamplesAndEvaluates(t *testing.T) {
	smp, ev, store, probe, tree := newFixture()

	q := clusterquery.NewFake()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.SetApps("node1", []clusterquery.AppRef{{AppURI: "fabric:/App1", AppTypeName: "App1Type"}})
	q.SetReplicas("node1", "fabric:/App1", []clusterquery.Replica{
		{ServiceName: "fabric:/App1/svc1", HostPID: 1000, HostProcessName: "app1.exe", HostProcessStart: start},
	})
	tree.Set(1000, "app1.exe", start, nil)
	probe.Set(1000, 95, 10, 10, 5, 5, 1, 1, 1)

	resolver := &target.Resolver{Query: q}

	targetsPath := filepath.Join(t.TempDir(), "targets.json")
	if err := os.WriteFile(targetsPath, []byte(`[{"targetApp":"fabric:/App1","cpuWarningLimitPercent":60,"cpuErrorLimitPercent":80}]`), 0o600); err != nil {
		t.Fatalf("write targets file: %v", err)
	}

	o := NewAppObserver("node1", zap.NewNop(), resolver, smp, ev, ev.Reporter, targetsPath, true, time.Minute)

	if err := o.Observe(context.Background()); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	events := store.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one health event, got %d: %+v", len(events), events)
	}
	if events[0].State != health.StateError {
		t.Errorf("expected Error at 95%% CPU against an 80%% error limit, got %v", events[0].State)
	}
	if o.LastRunAt().IsZero() {
		t.Error("expected LastRunAt to be set after Observe")
	}
}

func TestAppObserverMalformedTargetURIReportsWarningHealthEvent(t *testing.T) {
	smp, ev, store, _, _ := newFixture()
	q := clusterquery.NewFake()
	resolver := &target.Resolver{Query: q}

	targetsPath := filepath.Join(t.TempDir(), "targets.json")
	if err := os.WriteFile(targetsPath, []byte(`[{"targetApp":"fabric:/has a space"}]`), 0o600); err != nil {
		t.Fatalf("write targets file: %v", err)
	}

	o := NewAppObserver("node1", zap.NewNop(), resolver, smp, ev, ev.Reporter, targetsPath, true, time.Minute)

	if err := o.Observe(context.Background()); err != nil {
		t.Fatalf("Observe returned an error, want nil (absorbed per spec.md §7): %v", err)
	}

	events := store.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one warning health event for the malformed URI, got %d: %+v", len(events), events)
	}
	if events[0].State != health.StateWarning {
		t.Errorf("expected Warning, got %v", events[0].State)
	}
	if events[0].Property != "TargetConfiguration:fabric:/has a space" {
		t.Errorf("expected a per-URI TargetConfiguration property, got %v", events[0].Property)
	}
}

func TestSystemObserverEmitsSummaryEvenWithNoMatches(t *testing.T) {
	smp, ev, store, _, _ := newFixture()

	o := NewSystemObserver("node1", zap.NewNop(), smp, ev, ev.Reporter,
		[]string{"DefinitelyNotARunningProcessXYZ"}, model.TargetThresholds{}, true, time.Minute)

	if err := o.Observe(context.Background()); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	events := store.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one summary event, got %d", len(events))
	}
	if events[0].Property != "SystemServicesSummary" {
		t.Errorf("expected SystemServicesSummary property, got %v", events[0].Property)
	}
	if events[0].State != health.StateOk {
		t.Errorf("summary event must always be Ok-level, got %v", events[0].State)
	}
	if events[0].Value != 0 {
		t.Errorf("expected 0 services found, got %v", events[0].Value)
	}
}
