package collector

import "sync/atomic"

// SnapshotStore holds the most recently published snapshot.
// It has a single writer (the Sampler) and any number of readers.
// Publishing swaps a pointer, so readers never see fields from two cycles.
type SnapshotStore struct {
	current atomic.Pointer[MetricsSnapshot]
}

// NewSnapshotStore returns a store holding the zero snapshot.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{}
	s.current.Store(&MetricsSnapshot{})
	return s
}

// Publish replaces the current snapshot. snap must not be modified afterwards.
func (s *SnapshotStore) Publish(snap *MetricsSnapshot) {
	s.current.Store(snap)
}

// Load returns a copy of the current snapshot.
func (s *SnapshotStore) Load() MetricsSnapshot {
	return *s.current.Load()
}
