package health

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/telemetry"
)

// Reporter emits HealthEvents to the cluster health store and the
// TelemetrySink, and remembers which non-Ok keys this process has
// authored so the runner can retire them all on shutdown (spec.md §4.8,
// §4.11).
type Reporter struct {
	Store Store
	Sink  telemetry.Sink
	Log   *zap.Logger

	// TTLJitter bounds a random amount, drawn from [0, TTLJitter) on each
	// TTL call, that is added to the base TTL (runInterval*2) to avoid
	// every report on a node expiring in lock-step.
	TTLJitter time.Duration

	mu     sync.Mutex
	active map[key]HealthEvent
}

// NewReporter constructs a Reporter with an empty active-event set.
func NewReporter(store Store, sink telemetry.Sink, log *zap.Logger) *Reporter {
	return &Reporter{
		Store:  store,
		Sink:   sink,
		Log:    log,
		active: make(map[key]HealthEvent),
	}
}

// TTL computes the report TTL for a given observer run interval, per
// spec.md §4.8's "runInterval × 2 + jitter" example.
func (r *Reporter) TTL(runInterval time.Duration) time.Duration {
	jitter := r.TTLJitter
	if jitter > 0 {
		jitter = time.Duration(rand.Int63n(int64(jitter)))
	}
	return runInterval*2 + jitter
}

// Report emits one HealthEvent to both the health store and the
// telemetry sink. Failures in either path are logged and do not abort
// the caller's pass (spec.md §4.8). Emitting State==Ok clears the key
// from the active set; any other state adds/replaces it.
func (r *Reporter) Report(ctx context.Context, event HealthEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := r.Store.EmitHealth(event); err != nil {
		r.Log.Warn("health: emit to store failed",
			zap.String("property", event.Property), zap.Error(err))
	}
	if r.Sink != nil {
		err := r.Sink.ReportHealth(ctx, telemetry.HealthReport{
			Entity:   string(event.Entity),
			State:    string(event.State),
			Message:  event.Message,
			Property: event.Property,
			Source:   event.SourceID,
		})
		if err != nil {
			r.Log.Warn("health: emit to telemetry sink failed",
				zap.String("property", event.Property), zap.Error(err))
		}
	}

	k := keyOf(event)
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.State == StateOk {
		delete(r.active, k)
		return
	}
	r.active[k] = event
}

// ActiveCount returns the number of distinct non-Ok keys currently
// outstanding. Exposed for tests (spec.md §8 invariant 6).
func (r *Reporter) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// RetireAll emits a compensating Ok report for every outstanding non-Ok
// event this Reporter has authored, then clears the active set — the
// runner calls this on shutdown (spec.md §4.11).
func (r *Reporter) RetireAll(ctx context.Context) {
	r.mu.Lock()
	outstanding := make([]HealthEvent, 0, len(r.active))
	for _, e := range r.active {
		outstanding = append(outstanding, e)
	}
	r.mu.Unlock()

	for _, e := range outstanding {
		e.State = StateOk
		e.Message = "retired on shutdown"
		r.Report(ctx, e)
	}
}
