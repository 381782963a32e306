// Package evaluator implements spec.md §4.7: family aggregation across a
// target's parent and live children, threshold comparison with
// Ok/Warning/Error hysteresis per (target, metric), health-event and
// telemetry emission, and rate-limited dump requests.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/dumpbudget"
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/sampler"
	"github.com/nodewatch/agent/internal/telemetry"
)

// DumpRequester asks the host platform to capture a process dump for a
// pid. Implementations that cannot support this on the current platform
// should be omitted from Evaluator entirely (Dumper == nil), rather than
// returning an error on every call.
type DumpRequester interface {
	RequestDump(ctx context.Context, pid int32, reason string) error
}

// Evaluator compares per-target, per-metric family values against
// configured thresholds and drives the HealthReporter/TelemetrySink.
type Evaluator struct {
	Buffers  *sampler.BufferSet
	Reporter *health.Reporter
	Sink     telemetry.Sink
	Dumper   DumpRequester
	Budget   *dumpbudget.Bucket
	Log      *zap.Logger

	// ObserverName and Code compose the HealthEvent sourceId:
	// "{ObserverName}({Code})" (spec.md §4.8).
	ObserverName string
	Code         string

	tracker *stateTracker
}

// NewEvaluator constructs an Evaluator with a fresh hysteresis tracker.
func NewEvaluator(buffers *sampler.BufferSet, reporter *health.Reporter, sink telemetry.Sink, log *zap.Logger) *Evaluator {
	return &Evaluator{
		Buffers:  buffers,
		Reporter: reporter,
		Sink:     sink,
		Log:      log,
		tracker:  newStateTracker(),
	}
}

// Evaluate runs spec.md §4.7 for every target and every metric that
// target monitors. runInterval feeds the HealthEvent TTL computation
// (spec.md §4.8).
func (e *Evaluator) Evaluate(ctx context.Context, nodeName string, targets []model.ServiceTarget, runInterval time.Duration) {
	for _, t := range targets {
		e.evaluateTarget(ctx, nodeName, t, runInterval)
	}
}

func (e *Evaluator) sourceID() string {
	return fmt.Sprintf("%s(%s)", e.ObserverName, e.Code)
}

func (e *Evaluator) evaluateTarget(ctx context.Context, nodeName string, t model.ServiceTarget, runInterval time.Duration) {
	targetID := t.TargetID()

	for _, kind := range sampler.AllMetricKinds {
		threshold, monitored := thresholdFor(t.Thresholds, kind)
		if !monitored {
			continue
		}
		e.evaluateMetric(ctx, nodeName, t, targetID, kind, threshold, runInterval)
	}
}

// evaluateMetric implements spec.md §4.7 steps 1-5 for one (target,
// metric) pair, then garbage-collects the metric's child buffers so the
// next pass starts fresh (spec.md §4.7's stale-key GC note).
func (e *Evaluator) evaluateMetric(
	ctx context.Context,
	nodeName string,
	t model.ServiceTarget,
	targetID string,
	kind sampler.MetricKind,
	threshold model.Threshold,
	runInterval time.Duration,
) {
	reg := e.Buffers.Registry(kind)
	childKeys := reg.KeysWithPrefix(targetID)
	defer func() {
		for _, k := range childKeys {
			reg.Delete(k)
		}
	}()

	parentBuf := reg.Get(targetID)
	if parentBuf == nil || parentBuf.Count() == 0 {
		// Invariant 1 (spec.md §8): an empty buffer produces no event at
		// all — not even Ok. The whole family may have exited mid-pass.
		return
	}

	family := parentBuf.Avg()
	for _, k := range childKeys {
		childBuf := reg.Get(k)
		if childBuf != nil && childBuf.Count() > 0 {
			family += childBuf.Avg()
		}
	}

	state := deriveState(family, threshold)
	property := fmt.Sprintf("%s:%s:%s", propertyLabel(kind), appLabel(t), t.ServiceName)

	// Invariant 1 (spec.md §8): a non-empty buffer produces exactly one
	// health event every pass, regardless of whether state changed — the
	// health store's TTL (spec.md §4.8) needs refreshing each pass or the
	// event silently expires even though the condition is still active.
	key := stateKey{targetID: targetID, metric: property}
	changed := e.tracker.transition(key, state)
	event := health.HealthEvent{
		NodeName: nodeName,
		Entity:   health.EntityService,
		SourceID: e.sourceID(),
		Property: property,
		State:    state,
		Message:  fmt.Sprintf("%s = %.2f", propertyLabel(kind), family),
		TTL:      e.Reporter.TTL(runInterval),
		Metric:   propertyLabel(kind),
		Value:    family,
	}
	e.Reporter.Report(ctx, event)
	if changed {
		e.requestDumpIfNeeded(ctx, t, state, propertyLabel(kind))
	}

	if e.Sink != nil {
		if err := e.Sink.ReportMetric(ctx, telemetry.MetricEvent{
			Target: targetID,
			Metric: propertyLabel(kind),
			Value:  family,
			Tags:   map[string]string{"app": t.AppName, "service": t.ServiceName},
		}); err != nil {
			e.Log.Warn("evaluator: report metric failed", zap.String("target", targetID), zap.Error(err))
		}
	}
}

// requestDumpIfNeeded implements spec.md §4.7 step 4: a dump is
// requested for the offending pid only when the relevant dumpOn* flag
// is set, a Dumper is wired in, and the rate-limit budget allows it.
func (e *Evaluator) requestDumpIfNeeded(ctx context.Context, t model.ServiceTarget, state health.State, reason string) {
	if e.Dumper == nil || e.Budget == nil {
		return
	}
	wantDump := (state == health.StateError && t.Thresholds.DumpOnError) ||
		(state == health.StateWarning && t.Thresholds.DumpOnWarning)
	if !wantDump {
		return
	}
	if !e.Budget.TryConsume() {
		e.Log.Debug("evaluator: dump request dropped, rate limit exhausted", zap.Int32("pid", t.HostPID))
		return
	}
	if err := e.Dumper.RequestDump(ctx, t.HostPID, reason); err != nil {
		e.Log.Warn("evaluator: dump request failed", zap.Int32("pid", t.HostPID), zap.Error(err))
	}
}

func appLabel(t model.ServiceTarget) string {
	if t.AppName != "" {
		return t.AppName
	}
	return t.AppTypeName
}
