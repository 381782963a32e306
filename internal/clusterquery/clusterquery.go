// Package clusterquery defines the boundary between the core and the
// cluster platform's topology/manifest APIs (spec.md §4.3). The concrete
// platform client is out of scope for this repo; implementations here are
// either test doubles or a fixture-backed stand-in for local runs.
package clusterquery

import (
	"context"
	"time"
)

// AppRef identifies one deployed application on this node.
type AppRef struct {
	AppURI      string
	AppTypeName string
	AppTypeVer  string
}

// Replica identifies one deployed service replica/instance on this node.
type Replica struct {
	ServiceName         string
	ServiceTypeName     string
	ReplicaOrInstanceID int64
	PartitionID         string

	// IsStateful distinguishes stateful replicas (where role matters)
	// from stateless instances.
	IsStateful bool
	// Role is "Primary", "ActiveSecondary", "IdleSecondary", or "" for
	// stateless instances. Only Primary and ActiveSecondary are eligible
	// for monitoring (spec.md §4.4 step 3).
	Role string

	HostPID          int32
	HostProcessName  string
	HostProcessStart time.Time

	// ServiceManifestName identifies the manifest used to look up helper
	// code-packages and resource-governance limits.
	ServiceManifestName string
	CodePackageName     string
}

// CodePackage is one code package belonging to a service manifest; extra
// code packages beyond the primary entry point are "helper" processes
// attached to the same replica (spec.md §4.4 step 6).
type CodePackage struct {
	Name             string
	EntryPointPID    int32
	EntryPointName   string
	EntryPointStart  time.Time
	IsContainerHosted bool
}

// RGLimits is the extracted resource-governance memory policy for one
// code package (spec.md §4.3).
type RGLimits struct {
	MemoryEnabled bool
	MemoryLimitMB float64
}

// UpgradeProgress is a coarse upgrade-state summary, consumed by the
// upgrade-status observer (spec.md §2 "simpler" observer plugins).
type UpgradeProgress struct {
	InProgress   bool
	CurrentPhase string
	TargetVer    string
}

// ClusterQuery is the contract the core uses for every platform topology
// and manifest query. Implementations must be safe for concurrent use.
type ClusterQuery interface {
	// ListDeployedApps returns every application deployed to nodeName,
	// excluding none — callers (TargetResolver) are responsible for
	// skipping container-hosted and system applications.
	ListDeployedApps(ctx context.Context, nodeName string) ([]AppRef, error)

	// ListDeployedReplicas returns every replica/instance of appURI
	// deployed to nodeName, both stateful and stateless.
	ListDeployedReplicas(ctx context.Context, nodeName, appURI string) ([]Replica, error)

	// ListDeployedCodePackages returns every code package belonging to
	// serviceManifest for appURI on nodeName — the primary entry point
	// plus any helper processes.
	ListDeployedCodePackages(ctx context.Context, nodeName, appURI, serviceManifest string) ([]CodePackage, error)

	// GetApplicationManifest returns the raw application-manifest XML for
	// the given app-type name/version.
	GetApplicationManifest(ctx context.Context, appTypeName, appTypeVersion string) (string, error)

	// GetApplicationUpgradeProgress reports upgrade state for one app.
	GetApplicationUpgradeProgress(ctx context.Context, appURI string) (UpgradeProgress, error)

	// GetClusterUpgradeProgress reports cluster-wide upgrade state.
	GetClusterUpgradeProgress(ctx context.Context) (UpgradeProgress, error)
}
