package dispute

import (
	"fmt"
	"sync"
)

// MemoryStore is the default snapshot backend: a mutex-guarded mirror of the
// last ledger-confirmed records. Reads return clones so callers never observe
// a concurrent mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[uint64]*Dispute
	arbiters map[[20]byte]ArbiterStats
}

// NewMemoryStore returns an empty snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[uint64]*Dispute),
		arbiters: make(map[[20]byte]ArbiterStats),
	}
}

// DisputePut stores a sanitised clone of the record.
func (s *MemoryStore) DisputePut(d *Dispute) error {
	sanitized, err := Sanitize(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[sanitized.ID] = sanitized
	return nil
}

// DisputeGet returns a clone of the stored record, if any.
func (s *MemoryStore) DisputeGet(id uint64) (*Dispute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// DisputeIDs lists the tracked dispute ids in no particular order.
func (s *MemoryStore) DisputeIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.disputes))
	for id := range s.disputes {
		ids = append(ids, id)
	}
	return ids
}

// ArbiterStatsPut records an arbitrator's lifetime voting stats.
func (s *MemoryStore) ArbiterStatsPut(stats ArbiterStats) error {
	if stats.Address == ([20]byte{}) {
		return fmt.Errorf("dispute: arbiter stats require an address")
	}
	if stats.MajorityRateBps > bpsDenominator {
		return fmt.Errorf("dispute: majority rate out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbiters[stats.Address] = stats
	return nil
}

// ArbiterStatsGet returns the stored stats for an arbitrator.
func (s *MemoryStore) ArbiterStatsGet(addr [20]byte) (ArbiterStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.arbiters[addr]
	return stats, ok
}
