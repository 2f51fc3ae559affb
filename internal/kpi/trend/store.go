package trend

import (
	"sync"

	"github.com/google/uuid"
)

// SnapshotStore holds the latest analysis per KPI, written by the hourly
// sweep and read by the API with an on-demand fallback.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]*Analysis
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[uuid.UUID]*Analysis)}
}

// Put replaces the stored analysis for a KPI.
func (s *SnapshotStore) Put(a *Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[a.KPIID] = a
}

// Get returns the stored analysis for a KPI, if any.
func (s *SnapshotStore) Get(kpiID uuid.UUID) (*Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.snapshots[kpiID]
	return a, ok
}

// Delete drops the stored analysis for a KPI.
func (s *SnapshotStore) Delete(kpiID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, kpiID)
}
