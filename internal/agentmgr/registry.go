package agentmgr

import (
	"fmt"
	"sync"
	"time"

	"agentcoord/internal/domain"
)

// Registry is the directory of agents. Reads return copies; registration
// order is preserved by List.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.Agent
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*domain.Agent)}
}

func (r *Registry) Register(id string, capabilities, resources []string) (domain.Agent, error) {
	if id == "" {
		return domain.Agent{}, fmt.Errorf("agent id is required: %w", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; ok {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrDuplicate)
	}
	agent := &domain.Agent{
		ID:           id,
		Capabilities: uniqueStrings(capabilities),
		Resources:    uniqueStrings(resources),
		Status:       domain.AgentStatusActive,
	}
	r.agents[id] = agent
	r.order = append(r.order, id)
	return agent.Clone(), nil
}

func (r *Registry) Get(id string) (domain.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return domain.Agent{}, false
	}
	return agent.Clone(), true
}

func (r *Registry) UpdateStatus(id string, status domain.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	agent.Status = status
	return nil
}

func (r *Registry) UpdateHeartbeat(id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	agent.LastHeartbeat = ts
	return nil
}

// MarkInactiveIfStale flips an active agent to inactive when its last
// heartbeat is before cutoff. The check and the flip share one lock, so a
// heartbeat recorded after the caller listed agents is never overwritten.
// Agents that never sent a heartbeat are left alone.
func (r *Registry) MarkInactiveIfStale(id string, cutoff time.Time) (domain.Agent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return domain.Agent{}, false, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if agent.Status != domain.AgentStatusActive || agent.LastHeartbeat.IsZero() || !agent.LastHeartbeat.Before(cutoff) {
		return agent.Clone(), false, nil
	}
	agent.Status = domain.AgentStatusInactive
	return agent.Clone(), true, nil
}

func (r *Registry) List() []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

func (r *Registry) ListByCapability(capability string) []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Agent, 0)
	for _, id := range r.order {
		if agent := r.agents[id]; agent.HasCapability(capability) {
			out = append(out, agent.Clone())
		}
	}
	return out
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	delete(r.agents, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
