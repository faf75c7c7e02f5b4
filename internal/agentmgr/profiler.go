package agentmgr

import (
	"fmt"
	"sync"

	"agentcoord/internal/domain"
)

// DefaultReliability is the score every new profile starts with.
const DefaultReliability = 1.0

// Profiler keeps per-agent performance ledgers. Profiles are keyed by agent id
// but are not tied to the Registry: either may exist without the other.
type Profiler struct {
	mu       sync.RWMutex
	profiles map[string]*domain.AgentProfile
}

func NewProfiler() *Profiler {
	return &Profiler{profiles: make(map[string]*domain.AgentProfile)}
}

func (p *Profiler) Create(agentID string) (domain.AgentProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.profiles[agentID]; ok {
		return domain.AgentProfile{}, fmt.Errorf("profile for agent %s: %w", agentID, domain.ErrDuplicate)
	}
	profile := &domain.AgentProfile{
		AgentID:             agentID,
		PerformanceMetrics:  map[string]float64{},
		ReliabilityScore:    DefaultReliability,
		SpecializationAreas: []string{},
		HistoricalTasks:     []string{},
	}
	p.profiles[agentID] = profile
	return profile.Clone(), nil
}

// UpdatePerformanceMetrics merges metrics into the profile; existing keys are overwritten.
func (p *Profiler) UpdatePerformanceMetrics(agentID string, metrics map[string]float64) error {
	return p.mutate(agentID, func(profile *domain.AgentProfile) {
		for k, v := range metrics {
			profile.PerformanceMetrics[k] = v
		}
	})
}

// UpdateReliability overwrites the score. Values outside [0,1] are stored as given.
func (p *Profiler) UpdateReliability(agentID string, score float64) error {
	return p.mutate(agentID, func(profile *domain.AgentProfile) {
		profile.ReliabilityScore = score
	})
}

func (p *Profiler) AddSpecialization(agentID, specialization string) error {
	return p.mutate(agentID, func(profile *domain.AgentProfile) {
		for _, existing := range profile.SpecializationAreas {
			if existing == specialization {
				return
			}
		}
		profile.SpecializationAreas = append(profile.SpecializationAreas, specialization)
	})
}

func (p *Profiler) RecordTaskCompletion(agentID, taskID string) error {
	return p.mutate(agentID, func(profile *domain.AgentProfile) {
		profile.HistoricalTasks = append(profile.HistoricalTasks, taskID)
	})
}

func (p *Profiler) Get(agentID string) (domain.AgentProfile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.profiles[agentID]
	if !ok {
		return domain.AgentProfile{}, false
	}
	return profile.Clone(), true
}

func (p *Profiler) Specializations(agentID string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.profiles[agentID]
	if !ok {
		return nil, fmt.Errorf("profile for agent %s: %w", agentID, domain.ErrNotFound)
	}
	return append([]string(nil), profile.SpecializationAreas...), nil
}

func (p *Profiler) Reliability(agentID string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.profiles[agentID]
	if !ok {
		return 0, fmt.Errorf("profile for agent %s: %w", agentID, domain.ErrNotFound)
	}
	return profile.ReliabilityScore, nil
}

func (p *Profiler) mutate(agentID string, fn func(*domain.AgentProfile)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile, ok := p.profiles[agentID]
	if !ok {
		return fmt.Errorf("profile for agent %s: %w", agentID, domain.ErrNotFound)
	}
	fn(profile)
	return nil
}
