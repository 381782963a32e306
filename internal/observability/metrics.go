// Package observability — metrics.go
//
// Prometheus metrics for the nodewatch agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: nodewatch_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - State/property labels use bounded string sets (health state, observer
//     name).
//   - PID is NOT used as a label (unbounded cardinality).

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the agent.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Observer passes ──────────────────────────────────────────────────────

	// ObserverPassDuration records the wall time of one full Observe call.
	// Labels: observer
	ObserverPassDuration *prometheus.HistogramVec

	// ObserverTimeoutsTotal counts observer passes that exceeded their
	// per-observer timeout and were quarantined.
	// Labels: observer
	ObserverTimeoutsTotal *prometheus.CounterVec

	// ─── Sampling ─────────────────────────────────────────────────────────────

	// SampleDuration records the wall time of one target's resource sample.
	SampleDuration prometheus.Histogram

	// SamplesTotal counts individual target samples taken.
	// Labels: outcome (ok, probe_error, process_exited)
	SamplesTotal *prometheus.CounterVec

	// ─── Evaluation ───────────────────────────────────────────────────────────

	// EvaluateDuration records the wall time of one target's threshold
	// evaluation, including any child-process aggregation.
	EvaluateDuration prometheus.Histogram

	// HealthEventsTotal counts health events emitted, by resulting state.
	// Labels: state (Ok, Warning, Error)
	HealthEventsTotal *prometheus.CounterVec

	// ActiveHealthEvents is the current number of distinct non-Ok health
	// keys this process has outstanding.
	ActiveHealthEvents prometheus.Gauge

	// ─── Dump requests ────────────────────────────────────────────────────────

	// DumpRequestsTotal counts memory dump requests issued, by outcome.
	// Labels: outcome (requested, budget_exhausted, disabled)
	DumpRequestsTotal *prometheus.CounterVec

	// ─── Reporting ────────────────────────────────────────────────────────────

	// ReportDuration records the wall time of one telemetry sink report call.
	ReportDuration prometheus.Histogram

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageLedgerEntries is the current number of ledger entries.
	StorageLedgerEntries prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the agent started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all nodewatch Prometheus metrics.
// Returns a *Metrics with all descriptors initialised.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ObserverPassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodewatch",
			Subsystem: "observer",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one full observer pass (Observe call), by observer.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"observer"}),

		ObserverTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Subsystem: "observer",
			Name:      "timeouts_total",
			Help:      "Total observer passes that exceeded their timeout and were quarantined.",
		}, []string{"observer"}),

		SampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodewatch",
			Subsystem: "sampler",
			Name:      "sample_duration_seconds",
			Help:      "Wall time of one target's resource sample.",
			Buckets:   prometheus.DefBuckets,
		}),

		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Subsystem: "sampler",
			Name:      "samples_total",
			Help:      "Total target samples taken, by outcome.",
		}, []string{"outcome"}),

		EvaluateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodewatch",
			Subsystem: "evaluator",
			Name:      "evaluate_duration_seconds",
			Help:      "Wall time of one target's threshold evaluation, including child aggregation.",
			Buckets:   prometheus.DefBuckets,
		}),

		HealthEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Subsystem: "health",
			Name:      "events_total",
			Help:      "Total health events emitted, by resulting state.",
		}, []string{"state"}),

		ActiveHealthEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodewatch",
			Subsystem: "health",
			Name:      "active_events",
			Help:      "Current number of distinct non-Ok health keys this process has outstanding.",
		}),

		DumpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Subsystem: "evaluator",
			Name:      "dump_requests_total",
			Help:      "Total memory dump requests issued, by outcome.",
		}, []string{"outcome"}),

		ReportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodewatch",
			Subsystem: "telemetry",
			Name:      "report_duration_seconds",
			Help:      "Wall time of one telemetry sink report call.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodewatch",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageLedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodewatch",
			Subsystem: "storage",
			Name:      "ledger_entries",
			Help:      "Current number of operational ledger entries in BoltDB.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodewatch",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	// Register all metrics with the dedicated registry.
	reg.MustRegister(
		m.ObserverPassDuration,
		m.ObserverTimeoutsTotal,
		m.SampleDuration,
		m.SamplesTotal,
		m.EvaluateDuration,
		m.HealthEventsTotal,
		m.ActiveHealthEvents,
		m.DumpRequestsTotal,
		m.ReportDuration,
		m.StorageWriteLatency,
		m.StorageLedgerEntries,
		m.AgentUptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
// Returns an error only if the server fails to start or encounters a fatal error.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start uptime updater goroutine.
	go m.updateUptime(ctx)

	// Shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
