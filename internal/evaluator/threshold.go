package evaluator

import (
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/sampler"
)

// thresholdFor returns the ThresholdSet for one metric kind out of a
// target's TargetThresholds, and whether it is monitored at all.
func thresholdFor(th model.TargetThresholds, kind sampler.MetricKind) (model.Threshold, bool) {
	var t model.Threshold
	switch kind {
	case sampler.MetricCPUPct:
		t = th.CPUPct
	case sampler.MetricWorkingSetMB:
		t = th.WorkingSetMB
	case sampler.MetricWorkingSetPct:
		t = th.WorkingSetPct
	case sampler.MetricPrivateBytesMB:
		t = th.PrivateBytesMB
	case sampler.MetricPrivateBytesPct:
		t = th.PrivateBytesPct
	case sampler.MetricActiveTCPPorts:
		t = th.ActiveTCPPorts
	case sampler.MetricEphemeralTCPPorts:
		t = th.EphemeralTCPPorts
	case sampler.MetricEphemeralTCPPortsPct:
		t = th.EphemeralTCPPortsPct
	case sampler.MetricHandles:
		t = th.Handles
	case sampler.MetricThreads:
		t = th.Threads
	case sampler.MetricRGMemoryPct:
		t = th.RGMemoryPct
	}
	return t, t.Monitored()
}

// deriveState implements spec.md §4.7 step 2: Error if familyValue
// crosses the error threshold (when configured), else Warning if it
// crosses the warn threshold (when configured), else Ok. A threshold
// side of zero means "not monitored on that side" (spec.md §9's
// single-error-side rule) — it never causes a false Error/Warning.
func deriveState(familyValue float64, t model.Threshold) health.State {
	if t.Error > 0 && familyValue >= t.Error {
		return health.StateError
	}
	if t.Warn > 0 && familyValue >= t.Warn {
		return health.StateWarning
	}
	return health.StateOk
}
