package telemetry

import (
	"context"
	"sync"
)

// Fake is an in-memory Sink for tests: it records every call so tests
// can assert on emission counts and contents without touching disk.
type Fake struct {
	mu      sync.Mutex
	Metrics []MetricEvent
	Healths []HealthReport
	Events  []string
}

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) ReportMetric(_ context.Context, e MetricEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Metrics = append(f.Metrics, e)
	return nil
}

func (f *Fake) ReportHealth(_ context.Context, r HealthReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Healths = append(f.Healths, r)
	return nil
}

func (f *Fake) EmitEvent(_ context.Context, name string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, name)
	return nil
}
