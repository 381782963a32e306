package telemetry

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestLocalSinkWritesNewlineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.ndjson")
	sink, err := NewLocalSink(path, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLocalSink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	if err := sink.ReportMetric(ctx, MetricEvent{Target: "t1", Metric: "CpuPct", Value: 42}); err != nil {
		t.Fatalf("ReportMetric: %v", err)
	}
	if err := sink.ReportHealth(ctx, HealthReport{Entity: "Service", State: "Warning", Property: "CpuTime:App1:svc1"}); err != nil {
		t.Fatalf("ReportHealth: %v", err)
	}
	if err := sink.EmitEvent(ctx, "daily_telemetry", map[string]int{"count": 1}); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			t.Errorf("unexpected empty line")
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 lines written, got %d", lines)
	}
}
