// Package sampler implements the per-target, per-metric resource sampling
// loop (spec.md §4.6): for each ServiceTarget, sample the configured
// metrics for the parent process and its live descendants over a bounded
// sampling window, writing into per-metric SampleBuffers keyed by stable
// TargetId / ChildId.
package sampler

import "github.com/nodewatch/agent/internal/buffer"

// MetricKind identifies one of the eleven metrics a target's
// TargetThresholds can monitor (spec.md §3).
type MetricKind string

const (
	MetricCPUPct               MetricKind = "CpuPct"
	MetricWorkingSetMB         MetricKind = "WorkingSetMb"
	MetricWorkingSetPct        MetricKind = "WorkingSetPct"
	MetricPrivateBytesMB       MetricKind = "PrivateBytesMb"
	MetricPrivateBytesPct      MetricKind = "PrivateBytesPct"
	MetricActiveTCPPorts       MetricKind = "ActiveTcpPorts"
	MetricEphemeralTCPPorts    MetricKind = "EphemeralTcpPorts"
	MetricEphemeralTCPPortsPct MetricKind = "EphemeralTcpPortsPct"
	MetricHandles              MetricKind = "Handles"
	MetricThreads              MetricKind = "Threads"
	MetricRGMemoryPct          MetricKind = "RgMemoryPct"
)

// AllMetricKinds lists every metric kind in the fixed order the evaluator
// iterates them in.
var AllMetricKinds = []MetricKind{
	MetricCPUPct, MetricWorkingSetMB, MetricWorkingSetPct,
	MetricPrivateBytesMB, MetricPrivateBytesPct,
	MetricActiveTCPPorts, MetricEphemeralTCPPorts, MetricEphemeralTCPPortsPct,
	MetricHandles, MetricThreads, MetricRGMemoryPct,
}

// BufferSet holds one buffer.Registry[float64] per metric kind. A
// registry is only ever populated with entries for targets that actually
// monitor that metric — a target with a zero ThresholdSet for a metric
// never gets a buffer allocated for it (spec.md §8 invariant 2).
type BufferSet struct {
	registries map[MetricKind]*buffer.Registry[float64]
}

// NewBufferSet constructs an empty BufferSet.
func NewBufferSet() *BufferSet {
	bs := &BufferSet{registries: make(map[MetricKind]*buffer.Registry[float64], len(AllMetricKinds))}
	for _, k := range AllMetricKinds {
		bs.registries[k] = buffer.NewRegistry[float64]()
	}
	return bs
}

// Registry returns the registry for one metric kind.
func (bs *BufferSet) Registry(kind MetricKind) *buffer.Registry[float64] {
	return bs.registries[kind]
}
