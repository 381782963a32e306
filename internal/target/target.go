// Package target resolves the user-configured target list into the
// concrete ServiceTargets present on this node for one observer pass
// (spec.md §4.4). It is pure aside from its ClusterQuery and
// ProcessTreeDiscovery collaborators, so it is testable against fakes.
package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/nodewatch/agent/internal/clusterquery"
	"github.com/nodewatch/agent/internal/config"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/proctree"
)

// systemAppName is skipped during wildcard expansion (spec.md §4.4 step 1).
const systemAppName = "fabric:/System"

// wildcardApp is the value a RawTarget.TargetApp carries to mean "every
// deployed app on this node". Case-insensitive "all" is a synonym.
const wildcardApp = "*"

// RawTarget is the on-disk JSON shape of one AppObserver target-list
// entry (spec.md §6). Comma-separated include/exclude lists stay strings
// here; splitCSV turns them into slices during resolution.
type RawTarget struct {
	TargetApp          string `json:"targetApp"`
	TargetAppType      string `json:"targetAppType"`
	AppIncludeList     string `json:"appIncludeList"`
	AppExcludeList     string `json:"appExcludeList"`
	ServiceIncludeList string `json:"serviceIncludeList"`
	ServiceExcludeList string `json:"serviceExcludeList"`

	config.RawThresholds
}

// Warning is a non-fatal resolution problem the caller should report as a
// Warning health event (spec.md §4.4 step 2).
type Warning struct {
	TargetApp string
	Message   string
}

// Resolver resolves RawTargets into ServiceTargets for one node.
type Resolver struct {
	Query    clusterquery.ClusterQuery
	Proctree proctree.ProcessTreeDiscovery

	// DescendantMonitoringEnabled gates step 5 (spec.md §5, config knob).
	DescendantMonitoringEnabled bool

	// SelfPID/SelfProcessName identify this agent's own process, so a
	// replica hosted by the agent itself (which should never happen, but
	// is defended against per spec.md §4.4 step 4) is dropped.
	SelfPID         int32
	SelfProcessName string
}

// Resolve runs the full seven-step algorithm (spec.md §4.4) and returns
// the effective ServiceTargets for this node plus any non-fatal warnings.
func (r *Resolver) Resolve(ctx context.Context, nodeName string, raw []RawTarget) ([]model.ServiceTarget, []Warning, error) {
	expanded, warnings, err := r.expandWildcards(ctx, nodeName, raw)
	if err != nil {
		return nil, warnings, err
	}

	normalized, normWarnings := r.normalizeExplicitApps(expanded)
	warnings = append(warnings, normWarnings...)

	targets, err := r.resolveConfigs(ctx, nodeName, normalized)
	if err != nil {
		return nil, warnings, err
	}

	return targets, warnings, nil
}

// expandWildcards implements step 1: enumerate deployed apps, skip system
// apps, apply app include/exclude (before any replica query for the app),
// skip container-hosted apps, merge
// wildcard settings into any specific config for the same app (specific
// wins on non-zero fields), and otherwise synthesize a new per-app config.
// The wildcard entry itself is removed from the returned list.
func (r *Resolver) expandWildcards(ctx context.Context, nodeName string, raw []RawTarget) ([]RawTarget, []Warning, error) {
	var wildcards []RawTarget
	var specific []RawTarget
	for _, t := range raw {
		if isWildcard(t.TargetApp) {
			wildcards = append(wildcards, t)
		} else {
			specific = append(specific, t)
		}
	}
	if len(wildcards) == 0 {
		return specific, nil, nil
	}

	apps, err := r.Query.ListDeployedApps(ctx, nodeName)
	if err != nil {
		return nil, nil, fmt.Errorf("target: list deployed apps: %w", err)
	}

	var warnings []Warning
	result := append([]RawTarget(nil), specific...)

	for _, wc := range wildcards {
		for _, app := range apps {
			if app.AppURI == systemAppName {
				continue
			}
			if !matchesFilter(app.AppURI, splitCSV(wc.AppIncludeList), splitCSV(wc.AppExcludeList)) {
				continue
			}
			if isContainerHostedApp(ctx, r.Query, nodeName, app) {
				continue
			}

			idx := indexOfConfigForApp(result, app.AppURI, app.AppTypeName)
			if idx >= 0 {
				result[idx] = mergeFillZero(result[idx], wc)
				continue
			}
			perApp := wc
			perApp.TargetApp = app.AppURI
			result = append(result, perApp)
		}
	}

	return result, warnings, nil
}

// isContainerHostedApp reports whether every code package of app is
// container-hosted, in which case the app is skipped entirely (spec.md
// §4.4 step 1). Errors are treated conservatively as "not container
// hosted" so a manifest lookup failure doesn't silently hide an app.
func isContainerHostedApp(ctx context.Context, q clusterquery.ClusterQuery, nodeName string, app clusterquery.AppRef) bool {
	replicas, err := q.ListDeployedReplicas(ctx, nodeName, app.AppURI)
	if err != nil || len(replicas) == 0 {
		return false
	}
	for _, rep := range replicas {
		pkgs, err := q.ListDeployedCodePackages(ctx, nodeName, app.AppURI, rep.ServiceManifestName)
		if err != nil || len(pkgs) == 0 {
			return false
		}
		for _, pkg := range pkgs {
			if !pkg.IsContainerHosted {
				return false
			}
		}
	}
	return true
}

func indexOfConfigForApp(cfgs []RawTarget, appURI, appTypeName string) int {
	for i, c := range cfgs {
		if c.TargetApp == appURI || (c.TargetAppType != "" && c.TargetAppType == appTypeName) {
			return i
		}
	}
	return -1
}

// mergeFillZero fills zero/empty fields of specific from wildcard,
// leaving every non-zero field of specific untouched ("specific settings
// win", spec.md §4.4 step 1).
func mergeFillZero(specific, wildcard RawTarget) RawTarget {
	out := specific
	if out.AppIncludeList == "" {
		out.AppIncludeList = wildcard.AppIncludeList
	}
	if out.AppExcludeList == "" {
		out.AppExcludeList = wildcard.AppExcludeList
	}
	if out.ServiceIncludeList == "" {
		out.ServiceIncludeList = wildcard.ServiceIncludeList
	}
	if out.ServiceExcludeList == "" {
		out.ServiceExcludeList = wildcard.ServiceExcludeList
	}
	out.RawThresholds = mergeThresholdsFillZero(out.RawThresholds, wildcard.RawThresholds)
	return out
}

func mergeThresholdsFillZero(specific, wildcard config.RawThresholds) config.RawThresholds {
	fillF := func(dst *float64, src float64) {
		if *dst == 0 {
			*dst = src
		}
	}
	fillF(&specific.CPUErrorLimitPercent, wildcard.CPUErrorLimitPercent)
	fillF(&specific.CPUWarningLimitPercent, wildcard.CPUWarningLimitPercent)
	fillF(&specific.MemoryErrorLimitMB, wildcard.MemoryErrorLimitMB)
	fillF(&specific.MemoryWarningLimitMB, wildcard.MemoryWarningLimitMB)
	fillF(&specific.MemoryErrorLimitPercent, wildcard.MemoryErrorLimitPercent)
	fillF(&specific.MemoryWarningLimitPercent, wildcard.MemoryWarningLimitPercent)
	fillF(&specific.ErrorPrivateBytesMB, wildcard.ErrorPrivateBytesMB)
	fillF(&specific.WarningPrivateBytesMB, wildcard.WarningPrivateBytesMB)
	fillF(&specific.ErrorPrivateBytesPercent, wildcard.ErrorPrivateBytesPercent)
	fillF(&specific.WarningPrivateBytesPercent, wildcard.WarningPrivateBytesPercent)
	fillF(&specific.NetworkErrorActivePorts, wildcard.NetworkErrorActivePorts)
	fillF(&specific.NetworkWarningActivePorts, wildcard.NetworkWarningActivePorts)
	fillF(&specific.NetworkErrorEphemeralPorts, wildcard.NetworkErrorEphemeralPorts)
	fillF(&specific.NetworkWarningEphemeralPorts, wildcard.NetworkWarningEphemeralPorts)
	fillF(&specific.NetworkErrorEphemeralPortsPercent, wildcard.NetworkErrorEphemeralPortsPercent)
	fillF(&specific.NetworkWarningEphemeralPortsPercent, wildcard.NetworkWarningEphemeralPortsPercent)
	fillF(&specific.ErrorOpenFileHandles, wildcard.ErrorOpenFileHandles)
	fillF(&specific.WarningOpenFileHandles, wildcard.WarningOpenFileHandles)
	fillF(&specific.ErrorThreadCount, wildcard.ErrorThreadCount)
	fillF(&specific.WarningThreadCount, wildcard.WarningThreadCount)
	fillF(&specific.WarningRGMemoryLimitPercent, wildcard.WarningRGMemoryLimitPercent)
	if !specific.DumpProcessOnError {
		specific.DumpProcessOnError = wildcard.DumpProcessOnError
	}
	if !specific.DumpProcessOnWarning {
		specific.DumpProcessOnWarning = wildcard.DumpProcessOnWarning
	}
	return specific
}

// normalizeExplicitApps implements step 2: trim surrounding whitespace,
// prefix the platform URI scheme if missing, collapse "://" to ":/", and
// discard non-well-formed URIs with a Warning. Spaces inside a URI are not
// stripped: such a URI counts as malformed and is discarded.
func (r *Resolver) normalizeExplicitApps(cfgs []RawTarget) ([]RawTarget, []Warning) {
	var out []RawTarget
	var warnings []Warning
	for _, c := range cfgs {
		if c.TargetApp == "" {
			// type-scoped target, nothing to normalize
			out = append(out, c)
			continue
		}
		normalized, ok := normalizeAppURI(c.TargetApp)
		if !ok {
			warnings = append(warnings, Warning{
				TargetApp: c.TargetApp,
				Message:   fmt.Sprintf("malformed targetApp URI %q, skipping target", c.TargetApp),
			})
			continue
		}
		c.TargetApp = normalized
		out = append(out, c)
	}
	return out, warnings
}

func normalizeAppURI(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	if strings.Contains(uri, " ") {
		return "", false
	}
	if uri == "" {
		return "", false
	}
	const scheme = "fabric:"
	if !strings.HasPrefix(uri, scheme) {
		uri = scheme + "/" + uri
	}
	uri = strings.Replace(uri, "://", ":/", 1)
	if !strings.HasPrefix(uri, "fabric:/") {
		return "", false
	}
	if strings.TrimPrefix(uri, "fabric:/") == "" {
		return "", false
	}
	return uri, true
}

func isWildcard(targetApp string) bool {
	t := strings.TrimSpace(targetApp)
	return t == wildcardApp || strings.EqualFold(t, "all")
}

// splitCSV parses a comma-separated filter list, trimming whitespace and
// dropping empty entries. An empty input yields a nil slice (meaning "no
// filter" — see matchesFilter).
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchesFilter reports whether name passes the include/exclude filters:
// an empty include list means "include everything"; any match in exclude
// overrides an include match. Matching is case-insensitive substring
// matching against the leaf segment of name.
func matchesFilter(name string, include, exclude []string) bool {
	leaf := leafSegment(name)
	for _, ex := range exclude {
		if strings.Contains(strings.ToLower(leaf), strings.ToLower(ex)) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, in := range include {
		if strings.Contains(strings.ToLower(leaf), strings.ToLower(in)) {
			return true
		}
	}
	return false
}

func leafSegment(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return uri
	}
	return uri[idx+1:]
}
