package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"agentcoord/internal/domain"
)

// RegisterAgent adds the agent to the directory and opens its profile. An
// existing profile for the same id is kept.
func (s *Service) RegisterAgent(ctx context.Context, id string, capabilities, resources []string) (agent domain.Agent, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.RegisterAgent", attribute.String("agent.id", id))
	defer func() { endSpan(span, err) }()

	if _, err := s.registry.Register(id, capabilities, resources); err != nil {
		return domain.Agent{}, err
	}
	if _, err := s.profiler.Create(id); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return domain.Agent{}, err
	}
	if err := s.registry.UpdateHeartbeat(id, s.now().UTC()); err != nil {
		return domain.Agent{}, err
	}
	agent, _ = s.registry.Get(id)
	s.logDecision(ctx, id, "agent_registered", "agent joined", agent)
	return agent, nil
}

func (s *Service) RemoveAgent(ctx context.Context, id string) error {
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	s.Unsubscribe(id)
	s.health.Forget(id)
	s.logDecision(ctx, id, "agent_removed", "agent removed", nil)
	return nil
}

func (s *Service) Agent(id string) (domain.Agent, error) {
	agent, ok := s.registry.Get(id)
	if !ok {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return agent, nil
}

// Agents lists agents in registration order, optionally filtered by capability.
func (s *Service) Agents(capability string) []domain.Agent {
	if capability != "" {
		return s.registry.ListByCapability(capability)
	}
	return s.registry.List()
}

// Heartbeat refreshes the agent's liveness and reactivates it if the
// watchdog had marked it inactive.
func (s *Service) Heartbeat(ctx context.Context, id string) (domain.Agent, error) {
	if err := s.registry.UpdateHeartbeat(id, s.now().UTC()); err != nil {
		return domain.Agent{}, err
	}
	agent, _ := s.registry.Get(id)
	if agent.Status != domain.AgentStatusActive {
		if err := s.registry.UpdateStatus(id, domain.AgentStatusActive); err != nil {
			return domain.Agent{}, err
		}
		agent.Status = domain.AgentStatusActive
		s.logDecision(ctx, id, "agent_reactivated", "heartbeat received", nil)
	}
	return agent, nil
}

func (s *Service) Profile(id string) (domain.AgentProfile, error) {
	profile, ok := s.profiler.Get(id)
	if !ok {
		return domain.AgentProfile{}, fmt.Errorf("profile for agent %s: %w", id, domain.ErrNotFound)
	}
	return profile, nil
}

type ProfileUpdate struct {
	Reliability     *float64           `json:"reliability,omitempty"`
	Specializations []string           `json:"specializations,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}

func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (domain.AgentProfile, error) {
	if len(in.Metrics) > 0 {
		if err := s.profiler.UpdatePerformanceMetrics(id, in.Metrics); err != nil {
			return domain.AgentProfile{}, err
		}
	}
	if in.Reliability != nil {
		if err := s.profiler.UpdateReliability(id, *in.Reliability); err != nil {
			return domain.AgentProfile{}, err
		}
	}
	for _, spec := range in.Specializations {
		if err := s.profiler.AddSpecialization(id, spec); err != nil {
			return domain.AgentProfile{}, err
		}
	}
	profile, err := s.Profile(id)
	if err != nil {
		return domain.AgentProfile{}, err
	}
	s.logDecision(ctx, id, "profile_updated", "profile changed", in)
	return profile, nil
}

func (s *Service) RegisterResource(ctx context.Context, id, resourceType string, capacity float64) (domain.Resource, error) {
	res, err := s.allocator.Register(id, resourceType, capacity)
	if err != nil {
		return domain.Resource{}, err
	}
	s.logDecision(ctx, id, "resource_registered", "resource added", res)
	return res, nil
}

// AllocateResource reports false without error when capacity is exhausted.
func (s *Service) AllocateResource(ctx context.Context, agentID, resourceID string, amount float64) (granted bool, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.AllocateResource",
		attribute.String("agent.id", agentID),
		attribute.String("resource.id", resourceID),
		attribute.Float64("resource.amount", amount),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("resource.granted", granted))
		endSpan(span, err)
	}()

	if _, ok := s.registry.Get(agentID); !ok {
		return false, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	granted, err = s.allocator.Allocate(agentID, resourceID, amount)
	if err != nil {
		return false, err
	}
	payload := map[string]any{"agent_id": agentID, "amount": amount}
	if granted {
		s.logDecision(ctx, resourceID, "resource_allocated", "capacity available", payload)
	} else {
		s.logDecision(ctx, resourceID, "resource_denied", "capacity exhausted", payload)
	}
	return granted, nil
}

func (s *Service) ReleaseResource(ctx context.Context, agentID, resourceID string, amount float64) error {
	if err := s.allocator.Release(agentID, resourceID, amount); err != nil {
		return err
	}
	s.logDecision(ctx, resourceID, "resource_released", "released by holder", map[string]any{
		"agent_id": agentID,
		"amount":   amount,
	})
	return nil
}

type ResourceView struct {
	domain.Resource
	Utilization float64 `json:"utilization"`
}

// Resources lists resources with their utilization. availableOnly keeps
// resources with spare capacity; resourceType filters by type when set.
func (s *Service) Resources(resourceType string, availableOnly bool) []ResourceView {
	var list []domain.Resource
	if availableOnly {
		list = s.allocator.ListAvailable(resourceType)
	} else {
		for _, res := range s.allocator.List() {
			if resourceType == "" || res.Type == resourceType {
				list = append(list, res)
			}
		}
	}
	out := make([]ResourceView, 0, len(list))
	for _, res := range list {
		util, _ := s.allocator.Utilization(res.ID)
		out = append(out, ResourceView{Resource: res, Utilization: util})
	}
	return out
}

func (s *Service) AgentResources(agentID string) []domain.Resource {
	return s.allocator.ListForAgent(agentID)
}
