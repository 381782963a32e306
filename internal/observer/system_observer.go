package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/evaluator"
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/sampler"
)

// systemAppLabel is the AppName attached to every SystemObserver target
// so the HealthEvent property string (evaluator.appLabel) names the
// system-services family distinctly from any user application.
const systemAppLabel = "System"

// SystemObserver samples a fixed, platform-defined list of
// system-service process names, found by name rather than through
// ClusterQuery, and additionally emits one point-in-time aggregate
// Ok-level summary event per pass (spec.md §4.10).
type SystemObserver struct {
	NodeName string
	Log      *zap.Logger

	Sampler   *sampler.ResourceSampler
	Evaluator *evaluator.Evaluator
	Reporter  *health.Reporter

	ServiceNames      []string
	DefaultThresholds model.TargetThresholds
	enabled           bool
	runInterval       time.Duration

	state runState
}

// NewSystemObserver wires a SystemObserver from its collaborators.
func NewSystemObserver(
	nodeName string,
	log *zap.Logger,
	smp *sampler.ResourceSampler,
	ev *evaluator.Evaluator,
	reporter *health.Reporter,
	serviceNames []string,
	defaultThresholds model.TargetThresholds,
	enabled bool,
	runInterval time.Duration,
) *SystemObserver {
	return &SystemObserver{
		NodeName:          nodeName,
		Log:               log,
		Sampler:           smp,
		Evaluator:         ev,
		Reporter:          reporter,
		ServiceNames:      serviceNames,
		DefaultThresholds: defaultThresholds,
		enabled:           enabled,
		runInterval:       runInterval,
	}
}

func (o *SystemObserver) Name() string               { return "SystemObserver" }
func (o *SystemObserver) Enabled() bool               { return o.enabled }
func (o *SystemObserver) RunInterval() time.Duration  { return o.runInterval }
func (o *SystemObserver) LastRunAt() time.Time        { return o.state.getLastRunAt() }
func (o *SystemObserver) IsUnhealthy() bool           { return o.state.getUnhealthy() }
func (o *SystemObserver) MarkUnhealthy()              { o.state.markUnhealthy() }

// Observe finds the configured system-service processes by name,
// samples and evaluates them exactly like AppObserver's targets, then
// emits the aggregate summary event (spec.md §4.10).
func (o *SystemObserver) Observe(ctx context.Context) error {
	o.state.markRunStart(time.Now())
	if o.Sampler.Proctree != nil {
		o.Sampler.Proctree.BeginPass()
	}

	targets, found, err := o.findTargets(ctx)
	if err != nil {
		o.Log.Warn("system observer process enumeration failed", zap.Error(err))
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	o.Sampler.SamplePass(ctx, targets)

	if ctx.Err() != nil {
		return nil
	}
	o.Evaluator.Evaluate(ctx, o.NodeName, targets, o.runInterval)

	o.reportSummary(ctx, found, len(o.ServiceNames))
	return nil
}

// findTargets enumerates every running process once and matches
// against the configured service-name list, building one ServiceTarget
// per match found.
func (o *SystemObserver) findTargets(ctx context.Context) ([]model.ServiceTarget, int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("system observer: list processes: %w", err)
	}

	wanted := make(map[string]bool, len(o.ServiceNames))
	for _, n := range o.ServiceNames {
		wanted[n] = true
	}

	var targets []model.ServiceTarget
	found := 0
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !wanted[name] {
			continue
		}
		createMs, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			continue
		}
		found++
		targets = append(targets, model.ServiceTarget{
			AppName:          systemAppLabel,
			ServiceName:      name,
			HostPID:          p.Pid,
			HostProcessName:  name,
			HostProcessStart: time.UnixMilli(createMs),
			Thresholds:       o.DefaultThresholds,
		})
	}
	return targets, found, nil
}

// reportSummary emits the fixed, Ok-level informational event carrying
// totals across all configured system services (spec.md §4.10).
func (o *SystemObserver) reportSummary(ctx context.Context, found, configured int) {
	o.Reporter.Report(ctx, health.HealthEvent{
		NodeName: o.NodeName,
		Entity:   health.EntityNode,
		SourceID: fmt.Sprintf("%s(%s)", o.Name(), "SUM"),
		Property: "SystemServicesSummary",
		State:    health.StateOk,
		Message:  fmt.Sprintf("%d/%d configured system services found running", found, configured),
		TTL:      o.Reporter.TTL(o.runInterval),
		Metric:   "SystemServicesFound",
		Value:    float64(found),
	})
}
