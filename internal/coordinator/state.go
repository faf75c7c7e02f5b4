package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"agentcoord/internal/domain"
)

// SyncState records agentID's write of key and announces it to the other
// agents. Only registered agents may write.
func (s *Service) SyncState(ctx context.Context, agentID, key string, value any) (sv domain.StateVersion, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.SyncState",
		attribute.String("agent.id", agentID),
		attribute.String("state.key", key),
	)
	defer func() {
		span.SetAttributes(attribute.Int("state.version", sv.Version))
		endSpan(span, err)
	}()

	if key == "" {
		return domain.StateVersion{}, fmt.Errorf("state key is required: %w", domain.ErrInvalidArgument)
	}
	if _, err := s.Agent(agentID); err != nil {
		return domain.StateVersion{}, err
	}
	return s.syncer.Synchronize(agentID, key, value), nil
}

// State returns the newest version of key, or agentID's own version when
// agentID is set.
func (s *Service) State(key, agentID string) (domain.StateVersion, error) {
	var (
		sv domain.StateVersion
		ok bool
	)
	if agentID != "" {
		sv, ok = s.states.GetForAgent(key, agentID)
	} else {
		sv, ok = s.syncer.Latest(key)
	}
	if !ok {
		return domain.StateVersion{}, fmt.Errorf("state %s: %w", key, domain.ErrNotFound)
	}
	return sv, nil
}

func (s *Service) StateHistory(key string) []domain.StateVersion {
	return s.syncer.History(key)
}

func (s *Service) StateKeys() []string {
	return s.states.Keys()
}

func (s *Service) AgentStates(agentID string) map[string]domain.StateVersion {
	return s.syncer.AgentStates(agentID)
}

// PendingUpdates returns the keys where a newer version than agentID's exists.
func (s *Service) PendingUpdates(agentID string) (map[string]domain.StateVersion, error) {
	if _, err := s.Agent(agentID); err != nil {
		return nil, err
	}
	return s.syncer.PendingUpdates(agentID), nil
}

func (s *Service) RemoveState(ctx context.Context, key, agentID string) error {
	if err := s.states.Remove(key, agentID); err != nil {
		return err
	}
	s.logDecision(ctx, key, "state_removed", agentID, nil)
	return nil
}

// ResolveState picks the winner among the agents' current versions of key.
func (s *Service) ResolveState(ctx context.Context, key string) (winner domain.StateVersion, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.ResolveState", attribute.String("state.key", key))
	defer func() { endSpan(span, err) }()

	candidates := s.states.GetAll(key)
	if len(candidates) == 0 {
		return domain.StateVersion{}, fmt.Errorf("state %s: %w", key, domain.ErrNotFound)
	}
	winner, err = s.resolver.Resolve(key, candidates)
	if err != nil {
		return domain.StateVersion{}, err
	}
	if len(candidates) > 1 {
		s.logDecision(ctx, key, "state_conflict_resolved", winner.AgentID, map[string]any{
			"candidates": len(candidates),
			"version":    winner.Version,
		})
	}
	return winner, nil
}

// StateConflicts groups the agents that hold the same value of key.
func (s *Service) StateConflicts(key string) map[string]map[string]domain.StateVersion {
	return s.resolver.DetectConflicts(s.states.GetAll(key))
}

func (s *Service) ValidateState(key string) (bool, error) {
	sv, err := s.State(key, "")
	if err != nil {
		return false, err
	}
	return s.resolver.Validate(sv), nil
}
