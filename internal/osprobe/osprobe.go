// Package osprobe defines the boundary between the sampling core and the
// host operating system. Every query is a point-in-time sample — the probe
// itself is stateless across calls, as required by spec.md §4.2.
package osprobe

// PhysicalMemoryInfo is the output of GetPhysicalMemoryInfo.
type PhysicalMemoryInfo struct {
	TotalGB float64
	UsedGB  float64
	UsedPct float64
}

// OsProbe is the contract the sampler uses for every per-process and
// system-wide counter query. Implementations must be safe for concurrent
// use — the sampler calls these from a bounded worker pool.
type OsProbe interface {
	// GetCPUPercent returns 0..100, or -1 if the process vanished or
	// access was denied. A warm-up call may precede the measured call;
	// the caller (ResourceSampler) is responsible for that sequencing.
	GetCPUPercent(pid int32) float64

	// GetWorkingSetMB returns the resident working-set size in MB, or 0
	// on failure. name is an optional hint used by the fast path (see
	// Linux.workingSetFastPath) to batch same-named processes; usePrivate
	// selects private (non-shared) pages when the platform distinguishes.
	GetWorkingSetMB(pid int32, name string, usePrivate bool) float64

	// GetPrivateBytesMB returns private (non-shared) memory in MB, or 0
	// on failure.
	GetPrivateBytesMB(pid int32) float64

	// GetHandleCount returns the open file/handle count, or -1 on failure.
	GetHandleCount(pid int32) int64

	// GetThreadCount returns the thread count, or 0 on failure.
	GetThreadCount(pid int32) int64

	// GetActiveTCPPortCount returns the number of active TCP connections
	// owned by pid, or 0 on failure.
	GetActiveTCPPortCount(pid int32) int64

	// GetActiveEphemeralPortCount returns the subset of active TCP
	// connections using a local port in the dynamic/ephemeral range, or 0
	// on failure.
	GetActiveEphemeralPortCount(pid int32) int64

	// GetEphemeralPortCountPct returns GetActiveEphemeralPortCount as a
	// percentage of the size of the ephemeral port range, or 0 on failure.
	GetEphemeralPortCountPct(pid int32) float64

	// GetCommitLimitGB returns the system commit limit in GB, or 0 on
	// failure.
	GetCommitLimitGB() float64

	// GetPhysicalMemoryInfo returns total/used physical memory, or zero
	// values on failure.
	GetPhysicalMemoryInfo() PhysicalMemoryInfo
}
