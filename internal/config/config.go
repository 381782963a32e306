// Package config provides configuration loading, validation, and hot-reload
// for the nodewatch agent.
//
// Configuration file: /etc/nodewatch/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only: the observers are rebuilt from
//     the new config (thresholds, observer run intervals, the AppObserver
//     target list path). The log level, the runner's loop sleep and
//     observer timeout, and the probe's working-set fast-path threshold
//     keep their startup values.
//   - Destructive changes (storage path, metrics bind address, admin listen
//     address) require a restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., max_parallel_fraction ∈ (0.0, 1.0]).
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for nodewatch.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID is a unique identifier for this node.
	// Used in health events and telemetry records.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	// Agent configures parameters shared by every observer.
	Agent AgentConfig `yaml:"agent"`

	// AppObserver configures the service-target resource observer.
	AppObserver ObserverConfig `yaml:"app_observer"`

	// SystemObserver configures the fixed system-service resource observer.
	SystemObserver ObserverConfig `yaml:"system_observer"`

	// Storage configures the BoltDB operational-telemetry ledger.
	Storage StorageConfig `yaml:"storage"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`

	// Admin configures the gRPC liveness surface.
	Admin AdminConfig `yaml:"admin"`
}

// AgentConfig holds agent-level operational parameters shared by every
// observer (spec.md §5).
type AgentConfig struct {
	// ObserverExecutionLoopSleepSeconds is the runner's between-pass sleep.
	// Forced to a minimum of 15s if only one observer is enabled.
	// Default: 60.
	ObserverExecutionLoopSleepSeconds int `yaml:"observer_execution_loop_sleep_seconds"`

	// ObserverTimeoutSeconds is the hard per-observer timeout. An observer
	// that exceeds this is quarantined (IsUnhealthy) for the process
	// lifetime. Default: 300.
	ObserverTimeoutSeconds int `yaml:"observer_timeout_seconds"`

	// MaxParallelFraction is the fraction of CPUs used for bounded
	// parallel sampling: maxParallel = max(1, ceil(cpuCount*fraction)).
	// Forced to 1 if cpuCount < 4. Default: 0.25.
	MaxParallelFraction float64 `yaml:"max_parallel_fraction"`

	// MonitorDuration is the sampling window for rate-like metrics
	// (CPU, working set). Zero means "single point-in-time sample".
	// Default: 1s.
	MonitorDuration time.Duration `yaml:"monitor_duration"`

	// SampleInterval is the inter-sample delay within MonitorDuration.
	// Default: 100ms.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// WorkingSetProbeFastPathThreshold is the number of same-named
	// processes above which the working-set probe switches from
	// a gopsutil process handle to a direct read of /proc/<pid>/status.
	// Default: 50.
	WorkingSetProbeFastPathThreshold int `yaml:"working_set_probe_fast_path_threshold"`

	// MaxDumps and MaxDumpsTimeWindow bound process-dump requests.
	// Default: 3 dumps per 1h.
	MaxDumps           int           `yaml:"max_dumps"`
	MaxDumpsTimeWindow time.Duration `yaml:"max_dumps_time_window"`

	// DescendantMonitoringEnabled toggles ProcessTreeDiscovery (§4.4 step 5).
	// Default: true.
	DescendantMonitoringEnabled bool `yaml:"descendant_monitoring_enabled"`

	// HealthReportTTLJitter bounds the random jitter, drawn from
	// [0, HealthReportTTLJitter), added to runInterval*2 when computing a
	// health event's TTL (§4.8). Default: 30s.
	HealthReportTTLJitter time.Duration `yaml:"health_report_ttl_jitter"`

	// RestartOnConfigUpdate selects the "restart the process on config
	// change" strategy instead of in-place reload — see spec.md §4.11/§9.
	// Default: false.
	RestartOnConfigUpdate bool `yaml:"restart_on_config_update"`

	// ClusterQueryFixturePath points at the YAML topology fixture consumed
	// by clusterquery.Static (spec.md §1 — the real platform query client
	// is out of scope; Static stands in for it). Default:
	// /etc/nodewatch/cluster_topology.yaml.
	ClusterQueryFixturePath string `yaml:"cluster_query_fixture_path"`
}

// ObserverConfig holds the settings common to both AppObserver and
// SystemObserver.
type ObserverConfig struct {
	Enabled     bool          `yaml:"enabled"`
	RunInterval time.Duration `yaml:"run_interval"`
	Verbose     bool          `yaml:"verbose"`

	// TargetsFile is the path to the JSON target list (AppObserver only;
	// ignored by SystemObserver, which uses a fixed process-name list).
	TargetsFile string `yaml:"targets_file"`

	// SystemServiceNames is the fixed list of process names SystemObserver
	// monitors (SystemObserver only; ignored by AppObserver).
	SystemServiceNames []string `yaml:"system_service_names"`

	// DefaultThresholds apply when a target doesn't set its own (used
	// mainly by SystemObserver, which has no per-target JSON).
	DefaultThresholds RawThresholds `yaml:"default_thresholds"`
}

// RawThresholds mirrors the AppObserver JSON target schema (spec.md §6) so
// it can be reused as SystemObserver's YAML-configured defaults and as the
// on-disk target-list element shape.
type RawThresholds struct {
	CPUErrorLimitPercent                float64 `yaml:"cpu_error_limit_percent" json:"cpuErrorLimitPercent"`
	CPUWarningLimitPercent              float64 `yaml:"cpu_warning_limit_percent" json:"cpuWarningLimitPercent"`
	MemoryErrorLimitMB                  float64 `yaml:"memory_error_limit_mb" json:"memoryErrorLimitMb"`
	MemoryWarningLimitMB                float64 `yaml:"memory_warning_limit_mb" json:"memoryWarningLimitMb"`
	MemoryErrorLimitPercent             float64 `yaml:"memory_error_limit_percent" json:"memoryErrorLimitPercent"`
	MemoryWarningLimitPercent           float64 `yaml:"memory_warning_limit_percent" json:"memoryWarningLimitPercent"`
	ErrorPrivateBytesMB                 float64 `yaml:"error_private_bytes_mb" json:"errorPrivateBytesMb"`
	WarningPrivateBytesMB               float64 `yaml:"warning_private_bytes_mb" json:"warningPrivateBytesMb"`
	ErrorPrivateBytesPercent            float64 `yaml:"error_private_bytes_percent" json:"errorPrivateBytesPercent"`
	WarningPrivateBytesPercent          float64 `yaml:"warning_private_bytes_percent" json:"warningPrivateBytesPercent"`
	NetworkErrorActivePorts             float64 `yaml:"network_error_active_ports" json:"networkErrorActivePorts"`
	NetworkWarningActivePorts           float64 `yaml:"network_warning_active_ports" json:"networkWarningActivePorts"`
	NetworkErrorEphemeralPorts          float64 `yaml:"network_error_ephemeral_ports" json:"networkErrorEphemeralPorts"`
	NetworkWarningEphemeralPorts        float64 `yaml:"network_warning_ephemeral_ports" json:"networkWarningEphemeralPorts"`
	NetworkErrorEphemeralPortsPercent   float64 `yaml:"network_error_ephemeral_ports_percent" json:"networkErrorEphemeralPortsPercent"`
	NetworkWarningEphemeralPortsPercent float64 `yaml:"network_warning_ephemeral_ports_percent" json:"networkWarningEphemeralPortsPercent"`
	ErrorOpenFileHandles                float64 `yaml:"error_open_file_handles" json:"errorOpenFileHandles"`
	WarningOpenFileHandles              float64 `yaml:"warning_open_file_handles" json:"warningOpenFileHandles"`
	ErrorThreadCount                    float64 `yaml:"error_thread_count" json:"errorThreadCount"`
	WarningThreadCount                  float64 `yaml:"warning_thread_count" json:"warningThreadCount"`
	WarningRGMemoryLimitPercent         float64 `yaml:"warning_rg_memory_limit_percent" json:"warningRgMemoryLimitPercent"`
	DumpProcessOnError                  bool    `yaml:"dump_process_on_error" json:"dumpProcessOnError"`
	DumpProcessOnWarning                bool    `yaml:"dump_process_on_warning" json:"dumpProcessOnWarning"`
}

// StorageConfig holds the local operational-telemetry ledger parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	// Default: /var/lib/nodewatch/nodewatch.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the ledger retention period. Default: 7.
	RetentionDays int `yaml:"retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`

	// TelemetryFilePath is the local file the LocalSink appends
	// newline-delimited JSON telemetry events to.
	TelemetryFilePath string `yaml:"telemetry_file_path"`
}

// AdminConfig holds the gRPC liveness-surface parameters.
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultSystemServiceNames is the fixed list of system-service process
// names SystemObserver monitors by default (spec.md §4.10).
var DefaultSystemServiceNames = []string{
	"ClusterManagerService",
	"NamingService",
	"FailoverManagerService",
	"ImageStoreService",
	"RepairManagerService",
}

// DefaultDBPath mirrors the storage package constant for use in config defaults.
const DefaultDBPath = "/var/lib/nodewatch/nodewatch.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Agent: AgentConfig{
			ObserverExecutionLoopSleepSeconds: 60,
			ObserverTimeoutSeconds:            300,
			MaxParallelFraction:               0.25,
			MonitorDuration:                   time.Second,
			SampleInterval:                    100 * time.Millisecond,
			WorkingSetProbeFastPathThreshold:  50,
			MaxDumps:                          3,
			MaxDumpsTimeWindow:                time.Hour,
			DescendantMonitoringEnabled:       true,
			HealthReportTTLJitter:             30 * time.Second,
			RestartOnConfigUpdate:             false,
			ClusterQueryFixturePath:           "/etc/nodewatch/cluster_topology.yaml",
		},
		AppObserver: ObserverConfig{
			Enabled:     true,
			RunInterval: 60 * time.Second,
			TargetsFile: "/etc/nodewatch/targets.json",
		},
		SystemObserver: ObserverConfig{
			Enabled:            true,
			RunInterval:        60 * time.Second,
			SystemServiceNames: DefaultSystemServiceNames,
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 7,
		},
		Observability: ObservabilityConfig{
			MetricsAddr:       "127.0.0.1:9091",
			LogLevel:          "info",
			LogFormat:         "json",
			TelemetryFilePath: "/var/log/nodewatch/telemetry.jsonl",
		},
		Admin: AdminConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9092",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Agent.ObserverExecutionLoopSleepSeconds < 1 {
		errs = append(errs, fmt.Sprintf(
			"agent.observer_execution_loop_sleep_seconds must be >= 1, got %d",
			cfg.Agent.ObserverExecutionLoopSleepSeconds))
	}
	if cfg.Agent.ObserverTimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf(
			"agent.observer_timeout_seconds must be >= 1, got %d", cfg.Agent.ObserverTimeoutSeconds))
	}
	if cfg.Agent.MaxParallelFraction <= 0.0 || cfg.Agent.MaxParallelFraction > 1.0 {
		errs = append(errs, fmt.Sprintf(
			"agent.max_parallel_fraction must be in (0.0, 1.0], got %f", cfg.Agent.MaxParallelFraction))
	}
	if cfg.Agent.MonitorDuration < 0 {
		errs = append(errs, "agent.monitor_duration must be >= 0")
	}
	if cfg.Agent.SampleInterval <= 0 {
		errs = append(errs, "agent.sample_interval must be > 0")
	}
	if cfg.Agent.WorkingSetProbeFastPathThreshold < 1 {
		errs = append(errs, fmt.Sprintf(
			"agent.working_set_probe_fast_path_threshold must be >= 1, got %d",
			cfg.Agent.WorkingSetProbeFastPathThreshold))
	}
	if cfg.Agent.MaxDumps < 0 {
		errs = append(errs, "agent.max_dumps must be >= 0")
	}
	if cfg.Agent.MaxDumpsTimeWindow <= 0 {
		errs = append(errs, "agent.max_dumps_time_window must be > 0")
	}
	if cfg.AppObserver.Enabled && cfg.AppObserver.RunInterval <= 0 {
		errs = append(errs, "app_observer.run_interval must be > 0 when enabled")
	}
	if cfg.AppObserver.Enabled && cfg.AppObserver.TargetsFile == "" {
		errs = append(errs, "app_observer.targets_file must not be empty when enabled")
	}
	if cfg.SystemObserver.Enabled && cfg.SystemObserver.RunInterval <= 0 {
		errs = append(errs, "system_observer.run_interval must be > 0 when enabled")
	}
	if cfg.SystemObserver.Enabled && len(cfg.SystemObserver.SystemServiceNames) == 0 {
		errs = append(errs, "system_observer.system_service_names must not be empty when enabled")
	}
	if !cfg.AppObserver.Enabled && !cfg.SystemObserver.Enabled {
		errs = append(errs, "at least one of app_observer or system_observer must be enabled")
	}
	if cfg.Agent.ClusterQueryFixturePath == "" {
		errs = append(errs, "agent.cluster_query_fixture_path must not be empty")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}
	if cfg.Admin.Enabled && cfg.Admin.ListenAddr == "" {
		errs = append(errs, "admin.listen_addr must not be empty when admin is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
