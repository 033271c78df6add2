// Package snapshot holds the latest known field values for each monitored
// entity instance. Snapshots are inputs pushed by upstream systems, not
// authoritative records, so the store is a recent-window in-memory cache
// that upstream re-populates after a restart.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hjscm/alertengine/alert"
)

// Snapshot is an immutable view of one entity at a point in time. Fields
// map dot-paths ("inventory.onHand") to typed values; numbers are
// normalized to float64 at ingest so comparisons are uniform.
type Snapshot struct {
	Entity     alert.EntityRef
	Fields     map[string]any
	ObservedAt time.Time
}

// Field resolves a dot-path. ok is false when the field was never ingested.
func (s *Snapshot) Field(path string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Fields[path]
	return v, ok
}

// New builds a snapshot, normalizing numeric values. The fields map is
// copied; callers keep ownership of theirs.
func New(entity alert.EntityRef, fields map[string]any, observedAt time.Time) (*Snapshot, error) {
	if entity.Type == "" || entity.ID == "" {
		return nil, fmt.Errorf("snapshot requires entityType and entityId")
	}
	if observedAt.IsZero() {
		return nil, fmt.Errorf("snapshot %s requires observedAt", entity)
	}
	normalized := make(map[string]any, len(fields))
	for path, v := range fields {
		if err := alert.ValidatePath(path); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", entity, err)
		}
		normalized[path] = normalize(v)
	}
	return &Snapshot{Entity: entity, Fields: normalized, ObservedAt: observedAt}, nil
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return string(n)
		}
		return f
	}
	return v
}

// Store keeps the latest snapshot per entity. Updates replace the pointer
// for that key; an update older than the stored one is dropped.
type Store struct {
	mu      sync.RWMutex
	byKey   map[string]*Snapshot
	maxSize int
}

// NewStore creates a snapshot store. maxSize bounds the cache; 0 means
// unbounded.
func NewStore(maxSize int) *Store {
	return &Store{byKey: make(map[string]*Snapshot), maxSize: maxSize}
}

// Put stores snap if it is newer than the held snapshot for the same
// entity. Returns false when the update was stale and dropped.
func (st *Store) Put(snap *Snapshot) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := snap.Entity.Key()
	if cur, ok := st.byKey[key]; ok && !snap.ObservedAt.After(cur.ObservedAt) {
		return false
	}
	if st.maxSize > 0 && len(st.byKey) >= st.maxSize {
		if _, ok := st.byKey[key]; !ok {
			st.evictOldestLocked()
		}
	}
	st.byKey[key] = snap
	return true
}

// Get returns the latest snapshot for an entity, or nil.
func (st *Store) Get(entity alert.EntityRef) *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.byKey[entity.Key()]
}

// Len reports how many entities currently have a snapshot.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byKey)
}

func (st *Store) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, s := range st.byKey {
		if oldestKey == "" || s.ObservedAt.Before(oldest) {
			oldestKey = k
			oldest = s.ObservedAt
		}
	}
	if oldestKey != "" {
		delete(st.byKey, oldestKey)
	}
}
