// Package runner implements the ObserverRunner scheduling state machine
// (spec.md §4.11): sequential per-observer dispatch with a hard
// per-observer timeout, daily operational telemetry, graceful shutdown
// with compensating health retirement, and SIGHUP-driven configuration
// reload.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodewatch/agent/internal/health"
	"github.com/nodewatch/agent/internal/observer"
	"github.com/nodewatch/agent/internal/storage"
)

// FatalError marks a fault the runner must not locally recover from:
// privilege loss (spec.md §4.11's "capability-loss exception on the one
// platform") or an out-of-memory condition. Run returns it unwrapped so
// main can exit so the process supervisor restarts with capabilities
// re-applied.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runner: fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("runner: fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// State is the runner's coarse lifecycle state, reported by
// ObserverRunner.State.
type State string

const (
	StateIdle    State = "Idle"
	StateRunning State = "Running"
	StateStopped State = "Stopped"
)

// ReloadFunc rebuilds the observer list from a freshly loaded and
// validated config. Returning an error keeps the prior observer list in
// place (spec.md §2.3: "an invalid reload is logged and the prior
// config stands").
type ReloadFunc func() ([]observer.Observer, error)

// ObserverRunner is the single cooperative loop described in spec.md
// §5: observers execute sequentially; sampling inside one observer may
// parallelize under its own bound.
type ObserverRunner struct {
	Log      *zap.Logger
	Reporter *health.Reporter
	Ledger   *storage.DB
	NodeID   string

	// ObserverTimeout is the hard per-observer deadline (spec.md §4.11).
	ObserverTimeout time.Duration
	// LoopSleep is the between-iteration sleep, floored to 15s when at
	// most one observer is enabled (spec.md §4.11).
	LoopSleep time.Duration

	// Reload rebuilds the observer list on a valid SIGHUP reload.
	// RestartOnConfigUpdate instead requests a process restart (signalled
	// through RestartRequested) without calling Reload at all.
	Reload                ReloadFunc
	RestartOnConfigUpdate bool

	mu                     sync.Mutex
	observers              []observer.Observer
	state                  State
	configUpdateInProgress bool
	lastDailyEmit          time.Time

	restartCh chan struct{}
}

// New constructs an ObserverRunner with an initial observer list.
func New(log *zap.Logger, reporter *health.Reporter, ledger *storage.DB, nodeID string, observers []observer.Observer) *ObserverRunner {
	return &ObserverRunner{
		Log:       log,
		Reporter:  reporter,
		Ledger:    ledger,
		NodeID:    nodeID,
		observers: observers,
		state:     StateIdle,
		restartCh: make(chan struct{}, 1),
	}
}

// RestartRequested signals when a config reload requires a process
// restart (spec.md §4.11/§9, one platform's "restart on config update"
// path) — main selects on this alongside the shutdown signals.
func (r *ObserverRunner) RestartRequested() <-chan struct{} {
	return r.restartCh
}

// State reports the runner's coarse lifecycle state.
func (r *ObserverRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ObserverRunner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *ObserverRunner) currentObservers() []observer.Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observer.Observer, len(r.observers))
	copy(out, r.observers)
	return out
}

// Run blocks in the scheduling loop until ctx is cancelled, then drains
// (compensating Ok reports for every non-Ok event this process
// authored) and returns nil. It returns non-nil only for a FatalError
// an observer surfaced (spec.md §4.11 "on any other exception... log...
// and continue" vs privilege-loss/OOM which escalate).
func (r *ObserverRunner) Run(ctx context.Context) error {
	r.setState(StateRunning)

	for {
		if ctx.Err() != nil {
			break
		}

		if err := r.runPass(ctx); err != nil {
			r.setState(StateStopped)
			return err
		}

		r.maybeDailyTelemetry(ctx)

		if ctx.Err() != nil {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.computeSleep()):
		}
	}

	r.shutdown(context.Background())
	r.setState(StateStopped)
	return nil
}

// runPass dispatches every enabled observer sequentially. A per-observer
// timeout quarantines that observer (sticky IsUnhealthy) and continues;
// a FatalError from an observer propagates to the caller; every other
// error is logged and swallowed (spec.md §4.11, §7).
func (r *ObserverRunner) runPass(ctx context.Context) error {
	for _, obs := range r.currentObservers() {
		if ctx.Err() != nil {
			return nil
		}
		if !obs.Enabled() {
			continue
		}

		obsCtx, cancel := context.WithTimeout(ctx, r.ObserverTimeout)
		err := obs.Observe(obsCtx)
		timedOut := errors.Is(obsCtx.Err(), context.DeadlineExceeded)
		cancel()

		if timedOut {
			r.quarantine(ctx, obs)
			continue
		}
		if err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				r.Log.Error("observer reported a fatal error, terminating process",
					zap.String("observer", obs.Name()), zap.Error(fatal))
				return fatal
			}
			r.Log.Error("observer pass failed", zap.String("observer", obs.Name()), zap.Error(err))
			r.appendOperationalEvent(obs.Name(), "observer_error", err.Error())
		}
	}
	return nil
}

func (r *ObserverRunner) quarantine(ctx context.Context, obs observer.Observer) {
	if q, ok := obs.(observer.Quarantinable); ok {
		q.MarkUnhealthy()
	}
	r.Log.Warn("observer timed out, quarantined for remainder of process lifetime",
		zap.String("observer", obs.Name()), zap.Duration("timeout", r.ObserverTimeout))

	r.Reporter.Report(ctx, health.HealthEvent{
		NodeName: r.NodeID,
		Entity:   health.EntityNode,
		SourceID: fmt.Sprintf("ObserverRunner(%s)", obs.Name()),
		Property: "ObserverTimeout",
		State:    health.StateWarning,
		Message:  fmt.Sprintf("%s exceeded its %s timeout and was quarantined", obs.Name(), r.ObserverTimeout),
		TTL:      r.Reporter.TTL(obs.RunInterval()),
	})
	r.appendOperationalEvent(obs.Name(), "observer_timeout", "quarantined")
}

// computeSleep implements spec.md §4.11's between-iteration sleep rule:
// floored to 15s only when at most one observer is enabled.
func (r *ObserverRunner) computeSleep() time.Duration {
	sleep := r.LoopSleep
	if sleep < 15*time.Second && r.countEnabled() <= 1 {
		sleep = 15 * time.Second
	}
	return sleep
}

func (r *ObserverRunner) countEnabled() int {
	n := 0
	for _, obs := range r.currentObservers() {
		if obs.Enabled() {
			n++
		}
	}
	return n
}

// maybeDailyTelemetry emits at most once per 24h, and only when the
// shutdown token is not yet cancelled (spec.md §5).
func (r *ObserverRunner) maybeDailyTelemetry(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	due := time.Since(r.lastDailyEmit) > 24*time.Hour
	if due {
		r.lastDailyEmit = time.Now()
	}
	r.mu.Unlock()
	if !due {
		return
	}

	r.appendOperationalEvent("ObserverRunner", "daily_telemetry", "daily operational telemetry checkpoint")
	r.Log.Info("daily operational telemetry emitted", zap.String("node_id", r.NodeID))
}

// shutdown cancels accepting new iterations (the caller's ctx is already
// done by the time this runs) and clears every non-Ok health event this
// process has authored, one compensating Ok report per outstanding key
// (spec.md §4.11).
func (r *ObserverRunner) shutdown(ctx context.Context) {
	r.Log.Info("runner shutting down, retiring outstanding health events",
		zap.Int("active", r.Reporter.ActiveCount()))
	r.Reporter.RetireAll(ctx)
	r.appendOperationalEvent("ObserverRunner", "shutdown", "compensating Ok reports emitted")
}

// ReloadConfig implements spec.md §4.11's configuration-update state:
// on the restart-on-update platform strategy it signals RestartRequested
// and does nothing else; otherwise it marks configUpdateInProgress,
// rebuilds the observer list via Reload, and clears the flag. An invalid
// reload (Reload returning an error) leaves the current observers in
// place.
func (r *ObserverRunner) ReloadConfig(ctx context.Context) {
	if r.RestartOnConfigUpdate {
		select {
		case r.restartCh <- struct{}{}:
		default:
		}
		return
	}
	if r.Reload == nil {
		return
	}

	r.mu.Lock()
	r.configUpdateInProgress = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.configUpdateInProgress = false
		r.mu.Unlock()
	}()

	newObservers, err := r.Reload()
	if err != nil {
		r.Log.Error("configuration hot-reload failed, retaining prior configuration", zap.Error(err))
		r.appendOperationalEvent("ObserverRunner", "reload_failed", err.Error())
		return
	}

	r.mu.Lock()
	r.observers = newObservers
	r.mu.Unlock()
	r.Log.Info("configuration hot-reload succeeded")
	r.appendOperationalEvent("ObserverRunner", "reload_succeeded", "observer list rebuilt from reloaded configuration")
}

// ConfigUpdateInProgress reports whether a hot-reload is currently
// rebuilding the observer list.
func (r *ObserverRunner) ConfigUpdateInProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configUpdateInProgress
}

func (r *ObserverRunner) appendOperationalEvent(observerName, kind, message string) {
	if r.Ledger == nil {
		return
	}
	if err := r.Ledger.AppendEvent(storage.OperationalEvent{
		Observer: observerName,
		Kind:     kind,
		Message:  message,
		NodeID:   r.NodeID,
	}); err != nil {
		r.Log.Warn("failed to append operational event", zap.Error(err))
	}
}
