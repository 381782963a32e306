// Package health implements the HealthEvent lifecycle described in
// spec.md §4.8: idempotent emission to a cluster health store, keyed by
// (entity, sourceId, property) so that an Ok report retires any prior
// non-Ok report carrying the same key.
package health

import "time"

// Entity is the kind of object a HealthEvent is reported against.
type Entity string

const (
	EntityNode        Entity = "Node"
	EntityApplication Entity = "Application"
	EntityService     Entity = "Service"
)

// State is the three-level severity a HealthEvent carries.
type State string

const (
	StateOk      State = "Ok"
	StateWarning State = "Warning"
	StateError   State = "Error"
)

// HealthEvent is the concrete value type standing in for the dynamic
// property-bag health reports of the original platform client (spec.md
// §9 design note).
type HealthEvent struct {
	NodeName  string
	Entity    Entity
	SourceID  string
	Property  string
	State     State
	Message   string
	TTL       time.Duration
	Timestamp time.Time

	// Metric/Value carry the family-aggregate reading that produced this
	// event, so a consumer can correlate the report with the telemetry
	// stream without re-querying the sampler.
	Metric string
	Value  float64
}

// key is the (entity, sourceId, property) identity HealthEvents are
// keyed by.
type key struct {
	entity   Entity
	sourceID string
	property string
}

func keyOf(e HealthEvent) key {
	return key{entity: e.Entity, sourceID: e.SourceID, property: e.Property}
}

// Store is the cluster health store boundary: the platform API that
// persists and auto-expires health reports after TTL. Implementations
// must be safe for concurrent use (spec.md §5).
type Store interface {
	EmitHealth(event HealthEvent) error
}
