// Package storage — ledger.go
//
// bbolt-backed append-only ledger for nodewatch's local operational
// telemetry (spec.md §6: "Persisted state: none. Operational telemetry
// is append-only to local files alongside in-memory emission"). This is
// not a time-series store — it holds the runner's operational events
// (daily telemetry, observer timeouts and errors, reload outcomes,
// shutdown) and one record per health report the telemetry LocalSink
// forwards, kept for local post-mortem inspection.
//
// Schema (bbolt bucket layout):
//
//	/ledger
//	    key:   RFC3339Nano timestamp + "_" + a monotonic sequence number
//	    value: JSON-encoded OperationalEvent
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent
//     writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//
// Retention:
//   - Ledger entries older than RetentionDays are pruned by
//     PruneOldEvents, which the agent calls once at startup; nothing
//     prunes the ledger while the agent runs.
//
// Failure modes:
//   - bbolt file corruption: bbolt detects via CRC and returns an error
//     on Open(). The agent logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. The caller logs the
//     error and continues without persisting (in-memory state
//     preserved).
package storage

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default bbolt file location.
	DefaultDBPath = "/var/lib/nodewatch/nodewatch.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger retention period.
	DefaultRetentionDays = 7

	bucketLedger = "ledger"
	bucketMeta   = "meta"
)

// OperationalEvent is a single append-only ledger record: a runner
// operational event (daily telemetry, observer timeout or error, reload,
// shutdown) or a record of one health report the LocalSink forwarded.
type OperationalEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Observer  string    `json:"observer"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id"`
}

// DB wraps a bbolt instance with typed accessors for the nodewatch
// operational ledger.
type DB struct {
	db            *bolt.DB
	retentionDays int
	seq           atomic.Uint64
}

// Open opens (or creates) the bbolt database at path. Initializes
// required buckets and verifies the schema version.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, agent requires %q; "+
					"run migration or restore from backup",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ledgerKey constructs a sortable bbolt key for an event: lexicographic
// sort matches chronological sort, with a monotonic sequence number as
// a tiebreaker for events recorded within the same nanosecond.
func (d *DB) ledgerKey(t time.Time) []byte {
	seq := d.seq.Add(1)
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format(time.RFC3339Nano), seq))
}

// AppendEvent writes a new operational event to the ledger.
func (d *DB) AppendEvent(event OperationalEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("AppendEvent marshal: %w", err)
	}

	key := d.ledgerKey(event.Timestamp)

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendEvent bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldEvents deletes ledger entries older than RetentionDays.
// Returns the number of entries deleted.
func (d *DB) PruneOldEvents() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := []byte(fmt.Sprintf("%s_%020d", cutoff.Format(time.RFC3339Nano), uint64(0)))

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldEvents delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadEvents returns all ledger entries in chronological order. For
// operational inspection only; not called on the hot path.
func (d *DB) ReadEvents() ([]OperationalEvent, error) {
	var events []OperationalEvent
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var e OperationalEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, e)
			return nil
		})
	})
	return events, err
}
