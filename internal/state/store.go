package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"agentcoord/internal/domain"
)

// Store keeps one StateVersion per (key, agent). Each key has a single
// version counter shared by every writer; writes are serialized so versions
// stay unique and strictly increasing per key.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]map[string]domain.StateVersion
	counters map[string]int
	keys     []string
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries:  make(map[string]map[string]domain.StateVersion),
		counters: make(map[string]int),
		now:      time.Now,
	}
}

func (s *Store) Set(agentID, key string, value any) domain.StateVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[key]; !ok {
		s.counters[key] = 0
		s.keys = append(s.keys, key)
	}
	s.counters[key]++
	sv := domain.StateVersion{
		Value:     value,
		Version:   s.counters[key],
		Timestamp: s.now().UTC(),
		AgentID:   agentID,
	}
	if s.entries[key] == nil {
		s.entries[key] = make(map[string]domain.StateVersion)
	}
	s.entries[key][agentID] = sv
	return sv
}

// Get returns the highest version recorded for key across all agents.
func (s *Store) Get(key string) (domain.StateVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.StateVersion
		found  bool
	)
	for _, sv := range s.entries[key] {
		if !found || sv.Version > latest.Version {
			latest = sv
			found = true
		}
	}
	return latest, found
}

func (s *Store) GetForAgent(key, agentID string) (domain.StateVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.entries[key][agentID]
	return sv, ok
}

func (s *Store) GetAll(key string) map[string]domain.StateVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.StateVersion, len(s.entries[key]))
	for agentID, sv := range s.entries[key] {
		out[agentID] = sv
	}
	return out
}

// History returns the surviving versions of key in ascending version order.
func (s *Store) History(key string) []domain.StateVersion {
	s.mu.RLock()
	out := make([]domain.StateVersion, 0, len(s.entries[key]))
	for _, sv := range s.entries[key] {
		out = append(out, sv)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Keys lists known keys in first-write order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keys...)
}

func (s *Store) AgentStates(agentID string) map[string]domain.StateVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.StateVersion)
	for key, byAgent := range s.entries {
		if sv, ok := byAgent[agentID]; ok {
			out[key] = sv
		}
	}
	return out
}

// Remove deletes one agent's entry for key, or the whole key when agentID is
// empty. Removing the last entry forgets the key and its counter.
func (s *Store) Remove(key, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAgent, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("state key %s: %w", key, domain.ErrNotFound)
	}
	if agentID != "" {
		if _, ok := byAgent[agentID]; !ok {
			return fmt.Errorf("state key %s for agent %s: %w", key, agentID, domain.ErrNotFound)
		}
		delete(byAgent, agentID)
		if len(byAgent) > 0 {
			return nil
		}
	}
	delete(s.entries, key)
	delete(s.counters, key)
	for i, existing := range s.keys {
		if existing == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return nil
}
