// Package telemetry defines the narrow TelemetrySink contract (spec.md
// §6) and ships LocalSink, the one concrete sink this repo owns: an
// append-only newline-delimited-JSON file, standing in for the
// platform-specific sinks (App Insights, Log Analytics, ETW) that are
// out of scope here.
package telemetry

import "context"

// MetricEvent is one family-value sample reported by the evaluator
// (spec.md §4.7 step 5), emitted every pass regardless of state change.
type MetricEvent struct {
	Target string
	Metric string
	Value  float64
	Tags   map[string]string
}

// HealthReport mirrors one reported HealthEvent for the telemetry stream
// (spec.md §6); one is sent for every event the HealthReporter reports,
// not only for state changes.
type HealthReport struct {
	Entity   string
	State    string
	Message  string
	Property string
	Source   string
}

// Sink is the plug-replaceable telemetry contract every observer and
// the HealthReporter write through.
type Sink interface {
	ReportMetric(ctx context.Context, e MetricEvent) error
	ReportHealth(ctx context.Context, r HealthReport) error
	EmitEvent(ctx context.Context, name string, payload any) error
}
