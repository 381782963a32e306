package evaluator

import "github.com/nodewatch/agent/internal/sampler"

// propertyLabel maps a sampler.MetricKind to the stable label used in a
// HealthEvent's property string (spec.md §8 scenario 1's "property
// containing CpuTime", scenario 6's "WorkingSetMb:App1:svc1").
func propertyLabel(kind sampler.MetricKind) string {
	switch kind {
	case sampler.MetricCPUPct:
		return "CpuTime"
	case sampler.MetricWorkingSetMB:
		return "WorkingSetMb"
	case sampler.MetricWorkingSetPct:
		return "WorkingSetPercent"
	case sampler.MetricPrivateBytesMB:
		return "PrivateBytesMb"
	case sampler.MetricPrivateBytesPct:
		return "PrivateBytesPercent"
	case sampler.MetricActiveTCPPorts:
		return "ActiveTcpPorts"
	case sampler.MetricEphemeralTCPPorts:
		return "EphemeralTcpPorts"
	case sampler.MetricEphemeralTCPPortsPct:
		return "EphemeralTcpPortsPercent"
	case sampler.MetricHandles:
		return "OpenFileHandles"
	case sampler.MetricThreads:
		return "ThreadCount"
	case sampler.MetricRGMemoryPct:
		return "RgMemoryPercent"
	default:
		return string(kind)
	}
}
