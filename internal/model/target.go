// Package model holds the data types shared across the resolver, sampler,
// evaluator, and observer packages: the shape of one monitored target and
// its per-metric thresholds.
package model

import (
	"strconv"
	"time"
)

// ChildProc is a snapshot of one descendant process at resolution time.
type ChildProc struct {
	Name      string
	PID       int32
	StartTime time.Time
}

// ServiceTarget is one service replica/instance plus its host process and
// descendants, considered as one unit for threshold evaluation. Lifetime is
// a single observer pass — rebuilt each pass from ClusterQuery.
type ServiceTarget struct {
	AppName             string
	AppTypeName         string
	ServiceName         string
	ServiceTypeName     string
	ReplicaOrInstanceID int64
	PartitionID         string

	HostPID          int32
	HostProcessName  string
	HostProcessStart time.Time

	Children []ChildProc

	RGMemoryLimitMB float64
	RGEnabled       bool

	Thresholds TargetThresholds
}

// TargetID is the stable identity used to key metric buffers for the parent
// process of a target: "{appNameOrType}:{procName}{pid}".
func (t ServiceTarget) TargetID() string {
	name := t.AppName
	if name == "" {
		name = t.AppTypeName
	}
	return name + ":" + t.HostProcessName + strconv.FormatInt(int64(t.HostPID), 10)
}

// ChildID is the stable identity used to key metric buffers for one
// descendant process: "{TargetId}:{childProcName}{childPid}".
func ChildID(targetID string, c ChildProc) string {
	return targetID + ":" + c.Name + strconv.FormatInt(int64(c.PID), 10)
}

// Threshold is a per-metric warn/error pair. A zero value on either side
// means "not monitored" on that side.
type Threshold struct {
	Warn  float64
	Error float64
}

// Monitored reports whether at least one side of the threshold is set.
func (t Threshold) Monitored() bool {
	return t.Warn > 0 || t.Error > 0
}

// TargetThresholds holds every per-metric ThresholdSet plus the dump and
// filter settings for one target (spec.md §3).
type TargetThresholds struct {
	CPUPct                Threshold
	WorkingSetMB          Threshold
	WorkingSetPct         Threshold
	PrivateBytesMB        Threshold
	PrivateBytesPct       Threshold
	ActiveTCPPorts        Threshold
	EphemeralTCPPorts     Threshold
	EphemeralTCPPortsPct  Threshold
	Handles               Threshold
	Threads               Threshold
	RGMemoryPct           Threshold

	DumpOnError   bool
	DumpOnWarning bool

	ServiceIncludeList []string
	ServiceExcludeList []string
	AppIncludeList     []string
	AppExcludeList     []string
}
