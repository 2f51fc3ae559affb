package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CooldownStore tracks per-(rule, KPI) evaluation state: the last
// dispatch time, so a continuously-held condition produces at most one
// notification per cooldown window, and the time the condition first
// held, which backs sustained-duration rules.
//
// The in-memory implementation deliberately loses state on restart: the
// worst case is one duplicate notification per held condition and a
// restarted sustained window, an accepted tradeoff over exactly-once
// alerting.
type CooldownStore interface {
	LastDispatch(ruleID, kpiID uuid.UUID) (time.Time, bool)
	MarkDispatch(ruleID, kpiID uuid.UUID, at time.Time)
	HoldStart(ruleID, kpiID uuid.UUID) (time.Time, bool)
	MarkHold(ruleID, kpiID uuid.UUID, at time.Time)
	ClearHold(ruleID, kpiID uuid.UUID)
}

// MemoryCooldownStore is the default mutex-guarded CooldownStore.
type MemoryCooldownStore struct {
	mu    sync.RWMutex
	last  map[cooldownKey]time.Time
	holds map[cooldownKey]time.Time
}

type cooldownKey struct {
	ruleID uuid.UUID
	kpiID  uuid.UUID
}

// NewMemoryCooldownStore creates an empty store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{
		last:  make(map[cooldownKey]time.Time),
		holds: make(map[cooldownKey]time.Time),
	}
}

func (s *MemoryCooldownStore) LastDispatch(ruleID, kpiID uuid.UUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[cooldownKey{ruleID: ruleID, kpiID: kpiID}]
	return t, ok
}

func (s *MemoryCooldownStore) MarkDispatch(ruleID, kpiID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[cooldownKey{ruleID: ruleID, kpiID: kpiID}] = at
}

func (s *MemoryCooldownStore) HoldStart(ruleID, kpiID uuid.UUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.holds[cooldownKey{ruleID: ruleID, kpiID: kpiID}]
	return t, ok
}

func (s *MemoryCooldownStore) MarkHold(ruleID, kpiID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[cooldownKey{ruleID: ruleID, kpiID: kpiID}] = at
}

func (s *MemoryCooldownStore) ClearHold(ruleID, kpiID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, cooldownKey{ruleID: ruleID, kpiID: kpiID})
}
