package target

import (
	"context"

	"github.com/nodewatch/agent/internal/clusterquery"
	"github.com/nodewatch/agent/internal/model"
)

// resolveConfigs implements spec.md §4.4's Tie-breaks paragraph before
// running steps 3-7: an explicit targetApp and a targetAppType can both
// match the same deployed app, and a target list can carry more than one
// config of the same kind for the same app/app-type. Rather than
// resolving every config independently (and double-counting any replica
// more than one config matches), configs are deduped first — explicit
// targetApp always wins over targetAppType for the same app, and among
// configs of the same kind the first one with any non-empty filter list
// wins, otherwise the first one listed.
func (r *Resolver) resolveConfigs(ctx context.Context, nodeName string, cfgs []RawTarget) ([]model.ServiceTarget, error) {
	explicit, typeScoped := partitionByScope(cfgs)
	explicit = dedupeByKey(explicit, func(c RawTarget) string { return c.TargetApp })
	typeScoped = dedupeByKey(typeScoped, func(c RawTarget) string { return c.TargetAppType })

	claimedApps := make(map[string]bool, len(explicit))
	for _, c := range explicit {
		claimedApps[c.TargetApp] = true
	}

	var targets []model.ServiceTarget
	for _, cfg := range explicit {
		resolved, err := r.resolveOneConfig(ctx, nodeName, cfg, nil)
		if err != nil {
			return nil, err
		}
		targets = append(targets, resolved...)
	}
	for _, cfg := range typeScoped {
		resolved, err := r.resolveOneConfig(ctx, nodeName, cfg, claimedApps)
		if err != nil {
			return nil, err
		}
		targets = append(targets, resolved...)
	}
	return targets, nil
}

// partitionByScope splits configs into explicit (targetApp set) and
// type-scoped (targetAppType only).
func partitionByScope(cfgs []RawTarget) (explicit, typeScoped []RawTarget) {
	for _, c := range cfgs {
		if c.TargetApp != "" {
			explicit = append(explicit, c)
		} else {
			typeScoped = append(typeScoped, c)
		}
	}
	return explicit, typeScoped
}

// dedupeByKey implements the same-kind half of the tie-break rule: when
// two configs share the same key (the same explicit app, or the same app
// type), the first one with any non-empty filter list is kept, otherwise
// the first one listed.
func dedupeByKey(cfgs []RawTarget, key func(RawTarget) string) []RawTarget {
	if len(cfgs) < 2 {
		return cfgs
	}
	order := make([]string, 0, len(cfgs))
	byKey := make(map[string]RawTarget, len(cfgs))
	for _, c := range cfgs {
		k := key(c)
		existing, ok := byKey[k]
		if !ok {
			byKey[k] = c
			order = append(order, k)
			continue
		}
		if !hasAnyFilter(existing) && hasAnyFilter(c) {
			byKey[k] = c
		}
	}
	out := make([]RawTarget, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func hasAnyFilter(c RawTarget) bool {
	return c.AppIncludeList != "" || c.AppExcludeList != "" ||
		c.ServiceIncludeList != "" || c.ServiceExcludeList != ""
}

// resolveOneConfig implements steps 3-7 of spec.md §4.4 for a single
// (possibly per-app, possibly type-scoped) RawTarget. excludeApps, when
// non-nil, names apps an explicit targetApp config already claims — a
// type-scoped config skips replicas belonging to those apps so the
// explicit config's resolution of them is not duplicated.
func (r *Resolver) resolveOneConfig(ctx context.Context, nodeName string, cfg RawTarget, excludeApps map[string]bool) ([]model.ServiceTarget, error) {
	replicas, err := r.listReplicasFor(ctx, nodeName, cfg, excludeApps)
	if err != nil {
		return nil, err
	}

	serviceInclude := splitCSV(cfg.ServiceIncludeList)
	serviceExclude := splitCSV(cfg.ServiceExcludeList)

	thresholds := buildThresholds(cfg)

	var out []model.ServiceTarget
	for _, rep := range replicas {
		if rep.IsStateful && rep.Role != "Primary" && rep.Role != "ActiveSecondary" {
			continue
		}
		if !matchesFilter(rep.ServiceName, serviceInclude, serviceExclude) {
			continue
		}
		if !r.hostProcessIdentifiable(rep) {
			continue
		}

		st := model.ServiceTarget{
			AppName:             cfg.TargetApp,
			AppTypeName:         cfg.TargetAppType,
			ServiceName:         rep.ServiceName,
			ServiceTypeName:     rep.ServiceTypeName,
			ReplicaOrInstanceID: rep.ReplicaOrInstanceID,
			PartitionID:         rep.PartitionID,
			HostPID:             rep.HostPID,
			HostProcessName:     rep.HostProcessName,
			HostProcessStart:    rep.HostProcessStart,
			Thresholds:          thresholds,
		}

		if r.DescendantMonitoringEnabled && r.Proctree != nil {
			children, err := r.Proctree.Children(ctx, rep.HostPID)
			if err != nil {
				return nil, err
			}
			st.Children = append(st.Children, children...)
		}

		helpers, err := r.helperChildren(ctx, nodeName, cfg, rep)
		if err != nil {
			return nil, err
		}
		st.Children = append(st.Children, helpers...)

		if rgLimit, ok := r.rgLimitFor(ctx, cfg, rep); ok {
			st.RGEnabled = rgLimit.MemoryEnabled
			st.RGMemoryLimitMB = rgLimit.MemoryLimitMB
		}

		out = append(out, st)
	}

	return out, nil
}

// listReplicasFor enumerates replicas for an explicit app (cfg.TargetApp)
// or, for a type-scoped target, every app of that app-type whose AppURI
// is not already claimed by an explicit targetApp config (excludeApps,
// spec.md §4.4 tie-break: explicit wins).
func (r *Resolver) listReplicasFor(ctx context.Context, nodeName string, cfg RawTarget, excludeApps map[string]bool) ([]clusterquery.Replica, error) {
	if cfg.TargetApp != "" {
		return r.Query.ListDeployedReplicas(ctx, nodeName, cfg.TargetApp)
	}

	apps, err := r.Query.ListDeployedApps(ctx, nodeName)
	if err != nil {
		return nil, err
	}
	var all []clusterquery.Replica
	for _, app := range apps {
		if app.AppTypeName != cfg.TargetAppType {
			continue
		}
		if excludeApps[app.AppURI] {
			continue
		}
		reps, err := r.Query.ListDeployedReplicas(ctx, nodeName, app.AppURI)
		if err != nil {
			return nil, err
		}
		all = append(all, reps...)
	}
	return all, nil
}

// hostProcessIdentifiable implements step 4's drop condition: the host
// process must be identifiable and must not be the agent's own process.
func (r *Resolver) hostProcessIdentifiable(rep clusterquery.Replica) bool {
	if rep.HostPID <= 0 || rep.HostProcessName == "" {
		return false
	}
	if rep.HostPID == r.SelfPID && r.SelfProcessName != "" && rep.HostProcessName == r.SelfProcessName {
		return false
	}
	return true
}

// helperChildren implements step 6: additional code packages of the same
// service manifest beyond the replica's own entry point are attached as
// extra children.
func (r *Resolver) helperChildren(ctx context.Context, nodeName string, cfg RawTarget, rep clusterquery.Replica) ([]model.ChildProc, error) {
	if rep.ServiceManifestName == "" {
		return nil, nil
	}
	pkgs, err := r.Query.ListDeployedCodePackages(ctx, nodeName, appURIForReplica(cfg, rep), rep.ServiceManifestName)
	if err != nil {
		return nil, err
	}

	var helpers []model.ChildProc
	for _, pkg := range pkgs {
		if pkg.Name == rep.CodePackageName {
			continue
		}
		if pkg.EntryPointPID <= 0 {
			continue
		}
		helpers = append(helpers, model.ChildProc{
			Name:      pkg.EntryPointName,
			PID:       pkg.EntryPointPID,
			StartTime: pkg.EntryPointStart,
		})
	}
	return helpers, nil
}

// rgLimitFor implements step 7: resolve the application manifest and
// extract the resource-governance memory policy for the replica's code
// package. A missing manifest or policy is not an error; it just means RG
// is disabled for this target.
func (r *Resolver) rgLimitFor(ctx context.Context, cfg RawTarget, rep clusterquery.Replica) (clusterquery.RGLimits, bool) {
	if rep.ServiceManifestName == "" || rep.CodePackageName == "" {
		return clusterquery.RGLimits{}, false
	}
	manifestXML, err := r.Query.GetApplicationManifest(ctx, cfg.TargetAppType, "")
	if err != nil || manifestXML == "" {
		return clusterquery.RGLimits{}, false
	}
	limits, err := clusterquery.ExtractRGLimits(manifestXML, rep.ServiceManifestName, rep.CodePackageName, nil)
	if err != nil {
		return clusterquery.RGLimits{}, false
	}
	return limits, true
}

func appURIForReplica(cfg RawTarget, rep clusterquery.Replica) string {
	if cfg.TargetApp != "" {
		return cfg.TargetApp
	}
	return rep.ServiceName
}

func buildThresholds(cfg RawTarget) model.TargetThresholds {
	return model.TargetThresholds{
		CPUPct:               model.Threshold{Warn: cfg.CPUWarningLimitPercent, Error: cfg.CPUErrorLimitPercent},
		WorkingSetMB:         model.Threshold{Warn: cfg.MemoryWarningLimitMB, Error: cfg.MemoryErrorLimitMB},
		WorkingSetPct:        model.Threshold{Warn: cfg.MemoryWarningLimitPercent, Error: cfg.MemoryErrorLimitPercent},
		PrivateBytesMB:       model.Threshold{Warn: cfg.WarningPrivateBytesMB, Error: cfg.ErrorPrivateBytesMB},
		PrivateBytesPct:      model.Threshold{Warn: cfg.WarningPrivateBytesPercent, Error: cfg.ErrorPrivateBytesPercent},
		ActiveTCPPorts:       model.Threshold{Warn: cfg.NetworkWarningActivePorts, Error: cfg.NetworkErrorActivePorts},
		EphemeralTCPPorts:    model.Threshold{Warn: cfg.NetworkWarningEphemeralPorts, Error: cfg.NetworkErrorEphemeralPorts},
		EphemeralTCPPortsPct: model.Threshold{Warn: cfg.NetworkWarningEphemeralPortsPercent, Error: cfg.NetworkErrorEphemeralPortsPercent},
		Handles:              model.Threshold{Warn: cfg.WarningOpenFileHandles, Error: cfg.ErrorOpenFileHandles},
		Threads:              model.Threshold{Warn: cfg.WarningThreadCount, Error: cfg.ErrorThreadCount},
		RGMemoryPct:          model.Threshold{Warn: cfg.WarningRGMemoryLimitPercent},

		DumpOnError:   cfg.DumpProcessOnError,
		DumpOnWarning: cfg.DumpProcessOnWarning,

		ServiceIncludeList: splitCSV(cfg.ServiceIncludeList),
		ServiceExcludeList: splitCSV(cfg.ServiceExcludeList),
		AppIncludeList:     splitCSV(cfg.AppIncludeList),
		AppExcludeList:     splitCSV(cfg.AppExcludeList),
	}
}
