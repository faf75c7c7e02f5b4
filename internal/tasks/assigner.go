package tasks

import (
	"fmt"

	"agentcoord/internal/domain"
)

type AgentSource interface {
	List() []domain.Agent
}

type ProfileSource interface {
	Reliability(agentID string) (float64, error)
	Specializations(agentID string) ([]string, error)
}

type AssignmentWeights struct {
	Capability     float64 `toml:"capability" json:"capability"`
	Reliability    float64 `toml:"reliability" json:"reliability"`
	Specialization float64 `toml:"specialization" json:"specialization"`
}

func DefaultAssignmentWeights() AssignmentWeights {
	return AssignmentWeights{Capability: 0.4, Reliability: 0.3, Specialization: 0.3}
}

type Assigner struct {
	agents   AgentSource
	profiles ProfileSource
	matcher  Matcher
	weights  AssignmentWeights
}

// NewAssigner builds an assigner. A nil matcher means KeywordMatcher and zero
// weights mean DefaultAssignmentWeights.
func NewAssigner(agents AgentSource, profiles ProfileSource, matcher Matcher, weights AssignmentWeights) *Assigner {
	if matcher == nil {
		matcher = KeywordMatcher{}
	}
	if weights == (AssignmentWeights{}) {
		weights = DefaultAssignmentWeights()
	}
	return &Assigner{agents: agents, profiles: profiles, matcher: matcher, weights: weights}
}

// FindSuitableAgent scores every active agent against the task and returns
// the best one, or "" when no agent is active. The earliest registered agent
// wins a tie.
func (a *Assigner) FindSuitableAgent(task domain.Task) (string, error) {
	var (
		bestID    string
		bestScore float64
	)
	for _, agent := range a.agents.List() {
		if agent.Status != domain.AgentStatusActive {
			continue
		}
		score, err := a.score(task, agent)
		if err != nil {
			return "", err
		}
		if bestID == "" || score > bestScore {
			bestID, bestScore = agent.ID, score
		}
	}
	return bestID, nil
}

// AssignTask assigns a pending task to the best agent. It reports false when
// the task is not pending or nobody is available.
func (a *Assigner) AssignTask(task *domain.Task) (bool, error) {
	if task.Status != domain.TaskStatusPending {
		return false, nil
	}
	agentID, err := a.FindSuitableAgent(*task)
	if err != nil || agentID == "" {
		return false, err
	}
	task.AssignedAgent = agentID
	task.Status = domain.TaskStatusAssigned
	return true, nil
}

// ReassignTask moves an assigned or running task to a better agent. It
// reports false when the best agent is the current one.
func (a *Assigner) ReassignTask(task *domain.Task) (bool, error) {
	if task.Status != domain.TaskStatusAssigned && task.Status != domain.TaskStatusInProgress {
		return false, nil
	}
	agentID, err := a.FindSuitableAgent(*task)
	if err != nil || agentID == "" || agentID == task.AssignedAgent {
		return false, err
	}
	task.AssignedAgent = agentID
	return true, nil
}

// Workload counts the tasks agentID holds that are assigned or in progress.
func Workload(agentID string, tasks []domain.Task) int {
	n := 0
	for _, task := range tasks {
		if task.AssignedAgent != agentID {
			continue
		}
		if task.Status == domain.TaskStatusAssigned || task.Status == domain.TaskStatusInProgress {
			n++
		}
	}
	return n
}

func (a *Assigner) score(task domain.Task, agent domain.Agent) (float64, error) {
	reliability, err := a.profiles.Reliability(agent.ID)
	if err != nil {
		return 0, fmt.Errorf("score agent %s: %w", agent.ID, err)
	}
	specializations, err := a.profiles.Specializations(agent.ID)
	if err != nil {
		return 0, fmt.Errorf("score agent %s: %w", agent.ID, err)
	}
	score := a.weights.Reliability * reliability
	if a.matcher.MatchCapabilities(task, agent.Capabilities) {
		score += a.weights.Capability
	}
	if a.matcher.MatchSpecializations(task, specializations) {
		score += a.weights.Specialization
	}
	return score, nil
}
