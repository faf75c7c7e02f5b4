package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"agentcoord/internal/domain"
	"agentcoord/internal/tasks"
)

type CreateTaskInput struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Priority     domain.Priority `json:"priority"`
	Dependencies []string        `json:"dependencies"`
}

// CreateTask queues a pending task. Dependencies may name tasks that do not
// exist yet; such a task stays blocked until they are created and completed.
// A task that would close a dependency cycle is rejected and leaves no trace.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (task domain.Task, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.CreateTask")
	defer func() { endSpan(span, err) }()

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("task.id", in.ID), attribute.String("task.priority", in.Priority.String()))

	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	task, err = s.tasks.Create(domain.Task{
		ID:           in.ID,
		Description:  in.Description,
		Priority:     in.Priority,
		Status:       domain.TaskStatusPending,
		Dependencies: in.Dependencies,
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.graph.AddDependencies(task.ID, in.Dependencies...)
	if s.graph.HasCycle() {
		s.graph.Forget(task.ID)
		if rmErr := s.tasks.Remove(task.ID); rmErr != nil {
			s.logger.Printf("rollback task=%s: %v", task.ID, rmErr)
		}
		s.logDecision(ctx, task.ID, "task_rejected", "dependency cycle", in)
		return domain.Task{}, fmt.Errorf("create task %s: %w", task.ID, domain.ErrCycleDetected)
	}
	s.logDecision(ctx, task.ID, "task_created", "task queued", task)
	return task, nil
}

// RemoveTask drops the task and its outgoing dependency edges. Tasks that
// depend on it stay blocked.
func (s *Service) RemoveTask(ctx context.Context, id string) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if err := s.tasks.Remove(id); err != nil {
		return err
	}
	s.graph.Forget(id)
	s.logDecision(ctx, id, "task_removed", "task removed", nil)
	return nil
}

func (s *Service) Task(id string) (domain.Task, error) {
	task, ok := s.tasks.Get(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return task, nil
}

// Tasks lists tasks oldest first. Empty filters match everything.
func (s *Service) Tasks(status domain.TaskStatus, agentID string) []domain.Task {
	var list []domain.Task
	switch {
	case status != "":
		list = s.tasks.ListByStatus(status)
	case agentID != "":
		list = s.tasks.ListByAgent(agentID)
	default:
		return s.tasks.List()
	}
	if status == "" || agentID == "" {
		return list
	}
	out := make([]domain.Task, 0, len(list))
	for _, task := range list {
		if task.AssignedAgent == agentID {
			out = append(out, task)
		}
	}
	return out
}

// UpdateTaskStatus moves a task to status. A completed task is added to its
// agent's history.
func (s *Service) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (task domain.Task, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.UpdateTaskStatus",
		attribute.String("task.id", id),
		attribute.String("task.status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	task, err = s.tasks.UpdateStatus(id, status)
	if err != nil {
		return domain.Task{}, err
	}
	if status == domain.TaskStatusCompleted && task.AssignedAgent != "" {
		if err := s.profiler.RecordTaskCompletion(task.AssignedAgent, task.ID); err != nil {
			s.logger.Printf("record completion task=%s agent=%s: %v", task.ID, task.AssignedAgent, err)
		}
	}
	s.logDecision(ctx, task.ID, "task_status", string(status), map[string]any{
		"agent_id": task.AssignedAgent,
		"status":   status,
	})
	return task, nil
}

// AssignTask hands a pending task to the highest scoring active agent. It
// reports false when the task is not pending or no agent is available.
func (s *Service) AssignTask(ctx context.Context, id string) (task domain.Task, assigned bool, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.AssignTask", attribute.String("task.id", id))
	defer func() {
		span.SetAttributes(attribute.Bool("task.assigned", assigned))
		endSpan(span, err)
	}()

	task, err = s.Task(id)
	if err != nil {
		return domain.Task{}, false, err
	}
	candidate := task.Clone()
	ok, err := s.assigner.AssignTask(&candidate)
	if err != nil {
		return task, false, fmt.Errorf("assign task %s: %w", id, err)
	}
	if !ok {
		return task, false, nil
	}
	task, assigned, err = s.tasks.AssignIfPending(id, candidate.AssignedAgent)
	if err != nil || !assigned {
		return task, false, err
	}
	s.afterAssign(ctx, task, "best score")
	return task, true, nil
}

// AssignTaskTo binds the task to agentID regardless of score.
func (s *Service) AssignTaskTo(ctx context.Context, id, agentID string) (domain.Task, error) {
	if _, err := s.Agent(agentID); err != nil {
		return domain.Task{}, err
	}
	task, err := s.tasks.Assign(id, agentID)
	if err != nil {
		return domain.Task{}, err
	}
	s.afterAssign(ctx, task, "manual")
	return task, nil
}

// ReassignTask moves an assigned or running task to a better agent when one
// exists. The task keeps its status.
func (s *Service) ReassignTask(ctx context.Context, id string) (domain.Task, bool, error) {
	task, err := s.Task(id)
	if err != nil {
		return domain.Task{}, false, err
	}
	candidate := task.Clone()
	ok, err := s.assigner.ReassignTask(&candidate)
	if err != nil {
		return task, false, fmt.Errorf("reassign task %s: %w", id, err)
	}
	if !ok {
		return task, false, nil
	}
	task, err = s.tasks.Reassign(id, candidate.AssignedAgent)
	if err != nil {
		return domain.Task{}, false, err
	}
	s.afterAssign(ctx, task, "better agent")
	return task, true, nil
}

func (s *Service) afterAssign(ctx context.Context, task domain.Task, reason string) {
	s.logDecision(ctx, task.ID, "task_assigned", reason, map[string]any{"agent_id": task.AssignedAgent})
	s.notify(domain.Notification{
		Kind:    domain.NotificationTaskAssigned,
		AgentID: task.AssignedAgent,
		TaskID:  task.ID,
	})
}

func (s *Service) ReadyTasks() []domain.Task {
	return tasks.ReadyTasks(s.tasks.Snapshot())
}

func (s *Service) TaskOrder() ([]string, error) {
	return s.graph.TaskOrder()
}

func (s *Service) TaskDependencies(id string) (deps, dependents []string, err error) {
	if _, err := s.Task(id); err != nil {
		return nil, nil, err
	}
	return s.graph.Dependencies(id), s.graph.Dependents(id), nil
}

// NextTask previews what agentID would work on next. Pending onboarding
// steps come before regular work.
func (s *Service) NextTask(agentID string, priorities ...domain.Priority) (domain.Task, bool, error) {
	if _, err := s.Agent(agentID); err != nil {
		return domain.Task{}, false, err
	}
	task, ok := s.tasks.NextTask(agentID, priorities...)
	return task, ok, nil
}

// ClaimNextTask is NextTask for workers: a regular task it returns is
// assigned to agentID.
func (s *Service) ClaimNextTask(ctx context.Context, agentID string, priorities ...domain.Priority) (domain.Task, bool, error) {
	if _, err := s.Agent(agentID); err != nil {
		return domain.Task{}, false, err
	}
	task, ok := s.tasks.ClaimNextTask(agentID, priorities...)
	if ok && !task.IsOnboarding {
		s.logDecision(ctx, task.ID, "task_claimed", "worker pull", map[string]any{"agent_id": agentID})
	}
	return task, ok, nil
}

func (s *Service) Workload(agentID string) int {
	return tasks.Workload(agentID, s.tasks.ListByAgent(agentID))
}

// SubmitOnboardingResults records results for one curriculum step. When they
// meet the step's criteria the step's task is completed too.
func (s *Service) SubmitOnboardingResults(ctx context.Context, agentID, stepID string, results map[string]any) (domain.OnboardingStatus, bool, error) {
	if _, err := s.Agent(agentID); err != nil {
		return domain.OnboardingStatus{}, false, err
	}
	complete, err := s.tasks.UpdateOnboardingResults(agentID, stepID, results)
	if err != nil {
		return domain.OnboardingStatus{}, false, err
	}
	if complete {
		taskID := tasks.OnboardingTaskID(stepID, agentID)
		if _, err := s.tasks.UpdateStatus(taskID, domain.TaskStatusCompleted); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.OnboardingStatus{}, false, err
		}
		s.logDecision(ctx, agentID, "onboarding_step_completed", stepID, results)
	}
	return s.tasks.OnboardingStatus(agentID), complete, nil
}

func (s *Service) OnboardingStatus(agentID string) (domain.OnboardingStatus, error) {
	if _, err := s.Agent(agentID); err != nil {
		return domain.OnboardingStatus{}, err
	}
	return s.tasks.OnboardingStatus(agentID), nil
}

func (s *Service) Curriculum() []domain.OnboardingStep {
	return s.tasks.Curriculum().Steps()
}
