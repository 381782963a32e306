package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/storage"
)

// localRecord is the newline-delimited-JSON shape written to the local
// telemetry file: one of MetricEvent, HealthReport, or a named event,
// tagged by Kind.
type localRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Kind      string        `json:"kind"`
	Metric    *MetricEvent  `json:"metric,omitempty"`
	Health    *HealthReport `json:"health,omitempty"`
	Event     string        `json:"event,omitempty"`
	Payload   any           `json:"payload,omitempty"`
}

// LocalSink is the one concrete telemetry sink this repo owns: it
// appends newline-delimited JSON to a local file and, for health
// reports and named events, also records an OperationalEvent in the
// bbolt ledger (spec.md §6's "append-only to local files" persistence
// boundary).
type LocalSink struct {
	Log    *zap.Logger
	Ledger *storage.DB

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewLocalSink opens (creating if necessary) the telemetry file at path.
func NewLocalSink(path string, ledger *storage.DB, log *zap.Logger) (*LocalSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %q: %w", path, err)
	}
	return &LocalSink{
		Log:    log,
		Ledger: ledger,
		file:   f,
		w:      bufio.NewWriter(f),
	}, nil
}

func (s *LocalSink) writeLine(rec localRecord) error {
	rec.Timestamp = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("telemetry: marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *LocalSink) ReportMetric(_ context.Context, e MetricEvent) error {
	return s.writeLine(localRecord{Kind: "metric", Metric: &e})
}

func (s *LocalSink) ReportHealth(_ context.Context, r HealthReport) error {
	if err := s.writeLine(localRecord{Kind: "health", Health: &r}); err != nil {
		return err
	}
	if s.Ledger == nil {
		return nil
	}
	return s.Ledger.AppendEvent(storage.OperationalEvent{
		Observer: r.Source,
		Kind:     "health:" + r.State,
		Message:  r.Message,
	})
}

func (s *LocalSink) EmitEvent(_ context.Context, name string, payload any) error {
	if err := s.writeLine(localRecord{Kind: "event", Event: name, Payload: payload}); err != nil {
		return err
	}
	if s.Ledger == nil {
		return nil
	}
	return s.Ledger.AppendEvent(storage.OperationalEvent{
		Kind:    name,
		Message: fmt.Sprintf("%v", payload),
	})
}

// Close flushes and closes the underlying file.
func (s *LocalSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
