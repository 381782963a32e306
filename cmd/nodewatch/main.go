// Package main — cmd/nodewatch/main.go
//
// nodewatch agent entrypoint.
//
// Startup sequence:
//  1. Parse flags.
//  2. Load and validate config from /etc/nodewatch/config.yaml.
//  3. Initialise structured logger (zap), tagged with node_id.
//  4. Open the local BoltDB operational ledger, prune stale entries.
//  5. Start the Prometheus metrics server (/metrics, /healthz).
//  6. Construct boundary collaborators: OsProbe, ProcessTreeDiscovery,
//     ClusterQuery, TelemetrySink, HealthStore.
//  7. Construct the observer registry (AppObserver, SystemObserver) from a
//     fixed constructor list — no plugin/reflection mechanism (spec.md §9).
//  8. Construct and start the ObserverRunner.
//  9. Start the gRPC liveness surface (internal/adminserver).
// 10. Register SIGHUP (config reload) and SIGINT/SIGTERM (shutdown)
//     handlers.
// 11. Block until shutdown, flush the logger, exit.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to the runner, metrics server,
//     and admin server).
//  2. Wait for the runner to drain (compensating Ok health reports),
//     bounded by a 5s timer.
//  3. Close the BoltDB ledger.
//  4. Flush the logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nodewatch/agent/internal/adminserver"
	"github.com/nodewatch/agent/internal/clusterquery"
	"github.com/nodewatch/agent/internal/config"
	"github.com/nodewatch/agent/internal/dumpbudget"
	"github.com/nodewatch/agent/internal/evaluator"
	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/model"
	"github.com/nodewatch/agent/internal/observability"
	"github.com/nodewatch/agent/internal/observer"
	"github.com/nodewatch/agent/internal/osprobe"
	"github.com/nodewatch/agent/internal/proctree"
	"github.com/nodewatch/agent/internal/runner"
	"github.com/nodewatch/agent/internal/sampler"
	"github.com/nodewatch/agent/internal/storage"
	"github.com/nodewatch/agent/internal/target"
	"github.com/nodewatch/agent/internal/telemetry"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/nodewatch/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("nodewatch %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 2: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	log = log.With(zap.String("node_id", cfg.NodeID))
	defer log.Sync() //nolint:errcheck

	log.Info("nodewatch starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 4: Open BoltDB, prune stale entries ──────────────────────────────
	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	pruned, err := db.PruneOldEvents()
	if err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Step 5: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 6: Boundary collaborators ────────────────────────────────────────
	probe := osprobe.NewLinux(log)
	probe.WorkingSetFastPathThreshold = cfg.Agent.WorkingSetProbeFastPathThreshold

	tree := proctree.NewLinux(log)

	query, err := clusterquery.LoadStatic(cfg.Agent.ClusterQueryFixturePath)
	if err != nil {
		log.Fatal("cluster query fixture load failed", zap.Error(err),
			zap.String("path", cfg.Agent.ClusterQueryFixturePath))
	}

	sink, err := telemetry.NewLocalSink(cfg.Observability.TelemetryFilePath, db, log)
	if err != nil {
		log.Fatal("telemetry sink init failed", zap.Error(err))
	}
	defer sink.Close() //nolint:errcheck

	healthStore := health.NewLocalStore(log)
	reporter := health.NewReporter(healthStore, sink, log)
	reporter.TTLJitter = cfg.Agent.HealthReportTTLJitter

	selfPID := int32(os.Getpid())
	selfName := "nodewatch"

	// ── Step 7: Observer registry ──────────────────────────────────────────────
	observers := buildObservers(cfg, log, probe, tree, query, reporter, sink, db, selfPID, selfName)
	log.Info("observer registry constructed", zap.Int("count", len(observers)))

	// ── Step 8: ObserverRunner ─────────────────────────────────────────────────
	run := runner.New(log, reporter, db, cfg.NodeID, observers)
	run.ObserverTimeout = time.Duration(cfg.Agent.ObserverTimeoutSeconds) * time.Second
	run.LoopSleep = time.Duration(cfg.Agent.ObserverExecutionLoopSleepSeconds) * time.Second
	run.RestartOnConfigUpdate = cfg.Agent.RestartOnConfigUpdate
	run.Reload = func() ([]observer.Observer, error) {
		newCfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		*cfg = *newCfg
		return buildObservers(cfg, log, probe, tree, query, reporter, sink, db, selfPID, selfName), nil
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- run.Run(ctx) }()
	log.Info("observer runner started")

	// ── Step 9: Admin gRPC liveness surface ───────────────────────────────────
	if cfg.Admin.Enabled {
		admin := adminserver.New(cfg.Admin.ListenAddr, observers, log)
		go func() {
			if err := admin.ListenAndServe(ctx); err != nil {
				log.Error("admin server error", zap.Error(err))
			}
		}()
		log.Info("admin gRPC liveness surface started", zap.String("addr", cfg.Admin.ListenAddr))
	}

	// ── Step 10: Signal handlers ───────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received, reloading configuration")
			run.ReloadConfig(ctx)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ── Step 11: Block until shutdown ─────────────────────────────────────────
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-run.RestartRequested():
		log.Info("configuration update requires a restart, exiting for supervisor restart")
		cancel()
		os.Exit(1)
	case err := <-runErrCh:
		if err != nil {
			log.Error("observer runner terminated with a fatal error, exiting for supervisor restart", zap.Error(err))
			cancel()
			os.Exit(1)
		}
	}

	cancel()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-runErrCh:
		log.Info("observer runner drained")
	}

	log.Info("nodewatch shutdown complete")
}

// buildObservers constructs the fixed observer list from a config, the
// way the spec requires: no reflection, no plugin discovery, just an
// explicit constructor call per observer (spec.md §9).
func buildObservers(
	cfg *config.Config,
	log *zap.Logger,
	probe osprobe.OsProbe,
	tree proctree.ProcessTreeDiscovery,
	query clusterquery.ClusterQuery,
	reporter *health.Reporter,
	sink telemetry.Sink,
	db *storage.DB,
	selfPID int32,
	selfName string,
) []observer.Observer {
	maxParallel := computeMaxParallel(cfg.Agent.MaxParallelFraction)

	var observers []observer.Observer

	if cfg.AppObserver.Enabled {
		buffers := sampler.NewBufferSet()
		smp := &sampler.ResourceSampler{
			Probe:                       probe,
			Proctree:                    tree,
			Buffers:                     buffers,
			Log:                         log,
			MonitorDuration:             cfg.Agent.MonitorDuration,
			SampleInterval:              cfg.Agent.SampleInterval,
			MaxParallel:                 maxParallel,
			WorkingSetFastPathThreshold: cfg.Agent.WorkingSetProbeFastPathThreshold,
		}
		ev := evaluator.NewEvaluator(buffers, reporter, sink, log)
		ev.ObserverName = "AppObserver"
		ev.Code = "RM"
		if cfg.Agent.MaxDumps > 0 {
			ev.Budget = dumpbudget.New(cfg.Agent.MaxDumps, cfg.Agent.MaxDumpsTimeWindow)
		}
		resolver := &target.Resolver{
			Query:                       query,
			Proctree:                    tree,
			DescendantMonitoringEnabled: cfg.Agent.DescendantMonitoringEnabled,
			SelfPID:                     selfPID,
			SelfProcessName:             selfName,
		}
		observers = append(observers, observer.NewAppObserver(
			cfg.NodeID, log, resolver, smp, ev, reporter,
			cfg.AppObserver.TargetsFile, cfg.AppObserver.Enabled, cfg.AppObserver.RunInterval,
		))
	}

	if cfg.SystemObserver.Enabled {
		buffers := sampler.NewBufferSet()
		smp := &sampler.ResourceSampler{
			Probe:                       probe,
			Proctree:                    tree,
			Buffers:                     buffers,
			Log:                         log,
			MonitorDuration:             cfg.Agent.MonitorDuration,
			SampleInterval:              cfg.Agent.SampleInterval,
			MaxParallel:                 maxParallel,
			WorkingSetFastPathThreshold: cfg.Agent.WorkingSetProbeFastPathThreshold,
		}
		ev := evaluator.NewEvaluator(buffers, reporter, sink, log)
		ev.ObserverName = "SystemObserver"
		ev.Code = "RM"

		names := cfg.SystemObserver.SystemServiceNames
		if len(names) == 0 {
			names = config.DefaultSystemServiceNames
		}
		observers = append(observers, observer.NewSystemObserver(
			cfg.NodeID, log, smp, ev, reporter,
			names, thresholdsFromRaw(cfg.SystemObserver.DefaultThresholds),
			cfg.SystemObserver.Enabled, cfg.SystemObserver.RunInterval,
		))
	}

	return observers
}

// computeMaxParallel implements spec.md §5's bounded-parallelism rule:
// max(1, ceil(cpuCount*fraction)), forced to 1 below 4 CPUs.
func computeMaxParallel(fraction float64) int {
	cpus := runtime.NumCPU()
	if cpus < 4 {
		return 1
	}
	n := int(float64(cpus)*fraction + 0.999999)
	if n < 1 {
		n = 1
	}
	return n
}

func thresholdsFromRaw(raw config.RawThresholds) model.TargetThresholds {
	return model.TargetThresholds{
		CPUPct:               model.Threshold{Warn: raw.CPUWarningLimitPercent, Error: raw.CPUErrorLimitPercent},
		WorkingSetMB:         model.Threshold{Warn: raw.MemoryWarningLimitMB, Error: raw.MemoryErrorLimitMB},
		WorkingSetPct:        model.Threshold{Warn: raw.MemoryWarningLimitPercent, Error: raw.MemoryErrorLimitPercent},
		PrivateBytesMB:       model.Threshold{Warn: raw.WarningPrivateBytesMB, Error: raw.ErrorPrivateBytesMB},
		PrivateBytesPct:      model.Threshold{Warn: raw.WarningPrivateBytesPercent, Error: raw.ErrorPrivateBytesPercent},
		ActiveTCPPorts:       model.Threshold{Warn: raw.NetworkWarningActivePorts, Error: raw.NetworkErrorActivePorts},
		EphemeralTCPPorts:    model.Threshold{Warn: raw.NetworkWarningEphemeralPorts, Error: raw.NetworkErrorEphemeralPorts},
		EphemeralTCPPortsPct: model.Threshold{Warn: raw.NetworkWarningEphemeralPortsPercent, Error: raw.NetworkErrorEphemeralPortsPercent},
		Handles:              model.Threshold{Warn: raw.WarningOpenFileHandles, Error: raw.ErrorOpenFileHandles},
		Threads:              model.Threshold{Warn: raw.WarningThreadCount, Error: raw.ErrorThreadCount},
		RGMemoryPct:          model.Threshold{Warn: raw.WarningRGMemoryLimitPercent},
		DumpOnError:          raw.DumpProcessOnError,
		DumpOnWarning:        raw.DumpProcessOnWarning,
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
