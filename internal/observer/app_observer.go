package observer

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/evaluator"
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/sampler"
	"github.com/nodewatch/agent/internal/target"
)

// AppObserver composes TargetResolver, ResourceSampler, Evaluator and
// HealthReporter against the user's JSON-configured target list
// (spec.md §4.10).
type AppObserver struct {
	NodeName string
	Log      *zap.Logger

	Resolver  *target.Resolver
	Sampler   *sampler.ResourceSampler
	Evaluator *evaluator.Evaluator
	Reporter  *health.Reporter

	TargetsFile string
	enabled     bool
	runInterval time.Duration

	state runState
}

// NewAppObserver wires an AppObserver from its collaborators.
func NewAppObserver(
	nodeName string,
	log *zap.Logger,
	resolver *target.Resolver,
	smp *sampler.ResourceSampler,
	ev *evaluator.Evaluator,
	reporter *health.Reporter,
	targetsFile string,
	enabled bool,
	runInterval time.Duration,
) *AppObserver {
	return &AppObserver{
		NodeName:    nodeName,
		Log:         log,
		Resolver:    resolver,
		Sampler:     smp,
		Evaluator:   ev,
		Reporter:    reporter,
		TargetsFile: targetsFile,
		enabled:     enabled,
		runInterval: runInterval,
	}
}

func (o *AppObserver) Name() string              { return "AppObserver" }
func (o *AppObserver) Enabled() bool              { return o.enabled }
func (o *AppObserver) RunInterval() time.Duration { return o.runInterval }
func (o *AppObserver) LastRunAt() time.Time       { return o.state.getLastRunAt() }
func (o *AppObserver) IsUnhealthy() bool          { return o.state.getUnhealthy() }
func (o *AppObserver) MarkUnhealthy()             { o.state.markUnhealthy() }

// Observe runs one pass: load the target list, resolve it to concrete
// ServiceTargets, sample, then evaluate (spec.md §4.10). A configuration
// error (missing/malformed targets file) is absorbed here as a Warning
// health event — the pass returns without sampling (spec.md §7).
func (o *AppObserver) Observe(ctx context.Context) error {
	o.state.markRunStart(time.Now())
	if o.Sampler.Proctree != nil {
		o.Sampler.Proctree.BeginPass()
	}

	data, err := os.ReadFile(o.TargetsFile)
	if err != nil {
		o.reportConfigError(ctx, fmt.Sprintf("read targets file %q: %v", o.TargetsFile, err))
		return nil
	}

	raw, err := target.ParseRawTargets(data)
	if err != nil {
		o.reportConfigError(ctx, err.Error())
		return nil
	}

	targets, warnings, err := o.Resolver.Resolve(ctx, o.NodeName, raw)
	if err != nil {
		o.reportConfigError(ctx, err.Error())
		return nil
	}
	for _, w := range warnings {
		o.reportResolutionWarning(ctx, w)
	}

	if ctx.Err() != nil {
		return nil
	}
	o.Sampler.SamplePass(ctx, targets)

	if ctx.Err() != nil {
		return nil
	}
	o.Evaluator.Evaluate(ctx, o.NodeName, targets, o.runInterval)

	return nil
}

func (o *AppObserver) reportConfigError(ctx context.Context, msg string) {
	o.Log.Warn("app observer configuration error", zap.String("message", msg))
	o.Reporter.Report(ctx, health.HealthEvent{
		NodeName: o.NodeName,
		Entity:   health.EntityNode,
		SourceID: fmt.Sprintf("%s(%s)", o.Name(), "CFG"),
		Property: "TargetConfiguration",
		State:    health.StateWarning,
		Message:  msg,
		TTL:      o.Reporter.TTL(o.runInterval),
	})
}

// reportResolutionWarning implements spec.md §4.4 step 2: a
// non-well-formed targetApp URI is discarded with a Warning health
// report, not just a log line. Each bad URI gets its own property slot
// so multiple simultaneous warnings don't collide into one event.
func (o *AppObserver) reportResolutionWarning(ctx context.Context, w target.Warning) {
	o.Log.Warn("target resolution warning",
		zap.String("targetApp", w.TargetApp), zap.String("message", w.Message))
	o.Reporter.Report(ctx, health.HealthEvent{
		NodeName: o.NodeName,
		Entity:   health.EntityNode,
		SourceID: fmt.Sprintf("%s(%s)", o.Name(), "CFG"),
		Property: fmt.Sprintf("TargetConfiguration:%s", w.TargetApp),
		State:    health.StateWarning,
		Message:  w.Message,
		TTL:      o.Reporter.TTL(o.runInterval),
	})
}
