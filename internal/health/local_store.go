package health

import (
	"go.uber.org/zap"
)

// LocalStore is the Store this repo owns: the real cluster health store
// (spec.md §1's platform health-report API) is out of scope, so this
// implementation stands in for it the same way clusterquery.Static
// stands in for the platform topology query client — it logs every
// report rather than forwarding it to a cluster. Durable recording of
// health transitions happens on the telemetry.Sink side
// (telemetry.LocalSink already appends an OperationalEvent per report).
type LocalStore struct {
	Log *zap.Logger
}

// NewLocalStore constructs a LocalStore.
func NewLocalStore(log *zap.Logger) *LocalStore {
	return &LocalStore{Log: log}
}

// EmitHealth logs the report. It never fails, since there is no
// downstream cluster call that can.
func (s *LocalStore) EmitHealth(event HealthEvent) error {
	s.Log.Debug("health event",
		zap.String("node", event.NodeName),
		zap.String("entity", string(event.Entity)),
		zap.String("sourceId", event.SourceID),
		zap.String("property", event.Property),
		zap.String("state", string(event.State)),
		zap.String("message", event.Message),
	)
	return nil
}
