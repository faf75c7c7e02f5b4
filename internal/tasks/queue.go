package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"agentcoord/internal/domain"
)

// Queue stores tasks in per-priority buckets and tracks each agent's
// onboarding progress against the curriculum.
type Queue struct {
	mu         sync.RWMutex
	tasks      map[string]*domain.Task
	buckets    map[domain.Priority][]string
	curriculum *Curriculum
	completed  map[string][]string                  // agent -> completed step ids
	results    map[string]map[string]map[string]any // agent -> step -> results
	now        func() time.Time
}

func NewQueue(curriculum *Curriculum) *Queue {
	if curriculum == nil {
		curriculum = NewCurriculum(nil)
	}
	return &Queue{
		tasks:      make(map[string]*domain.Task),
		buckets:    make(map[domain.Priority][]string),
		curriculum: curriculum,
		completed:  make(map[string][]string),
		results:    make(map[string]map[string]map[string]any),
		now:        time.Now,
	}
}

func (q *Queue) Curriculum() *Curriculum {
	return q.curriculum
}

func (q *Queue) Create(task domain.Task) (domain.Task, error) {
	if task.ID == "" {
		return domain.Task{}, fmt.Errorf("task id is required: %w", domain.ErrInvalidArgument)
	}
	if !task.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("task %s priority %d: %w", task.ID, int(task.Priority), domain.ErrInvalidArgument)
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	if !task.Status.Valid() {
		return domain.Task{}, fmt.Errorf("task %s status %q: %w", task.ID, task.Status, domain.ErrInvalidArgument)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[task.ID]; ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", task.ID, domain.ErrDuplicate)
	}
	q.insertLocked(task)
	return q.tasks[task.ID].Clone(), nil
}

func (q *Queue) Get(id string) (domain.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return task.Clone(), true
}

// UpdateStatus moves the task to status. Completing an onboarding task
// records its step as done for the assigned agent.
func (q *Queue) UpdateStatus(id string, status domain.TaskStatus) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("task status %q: %w", status, domain.ErrInvalidArgument)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	task.Status = status
	task.UpdatedAt = q.now().UTC()
	if task.IsOnboarding && status == domain.TaskStatusCompleted && task.AssignedAgent != "" && task.OnboardingStep != "" {
		q.markStepLocked(task.AssignedAgent, task.OnboardingStep)
	}
	return task.Clone(), nil
}

func (q *Queue) Assign(id, agentID string) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	task.AssignedAgent = agentID
	task.Status = domain.TaskStatusAssigned
	task.UpdatedAt = q.now().UTC()
	return task.Clone(), nil
}

// AssignIfPending assigns the task only while it is still pending and
// unassigned. It reports whether the assignment happened.
func (q *Queue) AssignIfPending(id, agentID string) (domain.Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, false, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if task.Status != domain.TaskStatusPending || task.AssignedAgent != "" {
		return task.Clone(), false, nil
	}
	task.AssignedAgent = agentID
	task.Status = domain.TaskStatusAssigned
	task.UpdatedAt = q.now().UTC()
	return task.Clone(), true, nil
}

// Reassign changes the assignee and leaves the status alone.
func (q *Queue) Reassign(id, agentID string) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	task.AssignedAgent = agentID
	task.UpdatedAt = q.now().UTC()
	return task.Clone(), nil
}

// NextTask returns what agentID should work on next without claiming it.
// Onboarding comes first: while the agent has curriculum steps left, the next
// step is materialized as a task bound to the agent and returned. Otherwise
// the given priority buckets are scanned (all of them, most urgent first,
// when none are given) and the first task that is pending, unassigned and
// dependency-ready wins. This is not simply the head of the first non-empty
// bucket: a head that is blocked, assigned or finished is skipped, and a
// bucket holding no eligible task falls through to the next one.
func (q *Queue) NextTask(agentID string, priorities ...domain.Priority) (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.onboardingTaskLocked(agentID); ok {
		return task.Clone(), true
	}
	if task := q.firstRegularLocked(priorities, func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusPending && t.AssignedAgent == ""
	}); task != nil {
		return task.Clone(), true
	}
	return domain.Task{}, false
}

// ClaimNextTask is NextTask for workers: tasks already assigned to agentID
// are preferred over unassigned ones, and an unassigned task is assigned to
// agentID before it is returned.
func (q *Queue) ClaimNextTask(agentID string, priorities ...domain.Priority) (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.onboardingTaskLocked(agentID); ok {
		if task.Status != domain.TaskStatusPending && task.Status != domain.TaskStatusFailed {
			return domain.Task{}, false
		}
		return task.Clone(), true
	}
	if task := q.firstRegularLocked(priorities, func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusAssigned && t.AssignedAgent == agentID
	}); task != nil {
		return task.Clone(), true
	}
	task := q.firstRegularLocked(priorities, func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusPending && t.AssignedAgent == ""
	})
	if task == nil {
		return domain.Task{}, false
	}
	task.AssignedAgent = agentID
	task.Status = domain.TaskStatusAssigned
	task.UpdatedAt = q.now().UTC()
	return task.Clone(), true
}

func (q *Queue) ListByStatus(status domain.TaskStatus) []domain.Task {
	return q.filter(func(t *domain.Task) bool { return t.Status == status })
}

func (q *Queue) ListByAgent(agentID string) []domain.Task {
	return q.filter(func(t *domain.Task) bool { return t.AssignedAgent == agentID })
}

// List returns every task ordered by creation time.
func (q *Queue) List() []domain.Task {
	return q.filter(func(*domain.Task) bool { return true })
}

func (q *Queue) Snapshot() map[string]domain.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]domain.Task, len(q.tasks))
	for id, task := range q.tasks {
		out[id] = task.Clone()
	}
	return out
}

func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	bucket := q.buckets[task.Priority]
	for i, existing := range bucket {
		if existing == id {
			q.buckets[task.Priority] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	delete(q.tasks, id)
	return nil
}

// UpdateOnboardingResults stores results for the step and marks it completed
// when they satisfy its criteria. It reports whether the step is now complete.
func (q *Queue) UpdateOnboardingResults(agentID, stepID string, results map[string]any) (bool, error) {
	complete, err := q.curriculum.IsStepComplete(stepID, results)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.results[agentID] == nil {
		q.results[agentID] = make(map[string]map[string]any)
	}
	stored := make(map[string]any, len(results))
	for k, v := range results {
		stored[k] = v
	}
	q.results[agentID][stepID] = stored
	if complete {
		q.markStepLocked(agentID, stepID)
	}
	return complete, nil
}

func (q *Queue) OnboardingStatus(agentID string) domain.OnboardingStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.curriculum.Status(q.completed[agentID], q.results[agentID])
}

func (q *Queue) CompletedSteps(agentID string) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]string(nil), q.completed[agentID]...)
}

func (q *Queue) insertLocked(task domain.Task) {
	now := q.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	task.Dependencies = append([]string{}, task.Dependencies...)
	q.tasks[task.ID] = &task
	q.buckets[task.Priority] = append(q.buckets[task.Priority], task.ID)
}

func (q *Queue) onboardingTaskLocked(agentID string) (*domain.Task, bool) {
	step, ok := q.curriculum.NextStep(q.completed[agentID])
	if !ok {
		return nil, false
	}
	id := OnboardingTaskID(step.ID, agentID)
	if task, ok := q.tasks[id]; ok {
		return task, true
	}
	q.insertLocked(domain.Task{
		ID:             id,
		Description:    step.Description,
		Priority:       domain.PriorityHigh,
		Status:         domain.TaskStatusPending,
		AssignedAgent:  agentID,
		IsOnboarding:   true,
		OnboardingStep: step.ID,
	})
	return q.tasks[id], true
}

func (q *Queue) firstRegularLocked(priorities []domain.Priority, match func(*domain.Task) bool) *domain.Task {
	if len(priorities) == 0 {
		priorities = domain.PrioritiesDescending
	}
	for _, priority := range priorities {
		for _, id := range q.buckets[priority] {
			task := q.tasks[id]
			if task.IsOnboarding || !match(task) || !q.readyLocked(task) {
				continue
			}
			return task
		}
	}
	return nil
}

func (q *Queue) readyLocked(task *domain.Task) bool {
	for _, depID := range task.Dependencies {
		dep, ok := q.tasks[depID]
		if !ok || dep.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (q *Queue) markStepLocked(agentID, stepID string) {
	for _, existing := range q.completed[agentID] {
		if existing == stepID {
			return
		}
	}
	q.completed[agentID] = append(q.completed[agentID], stepID)
}

func (q *Queue) filter(keep func(*domain.Task) bool) []domain.Task {
	q.mu.RLock()
	out := make([]domain.Task, 0)
	for _, task := range q.tasks {
		if keep(task) {
			out = append(out, task.Clone())
		}
	}
	q.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnboardingTaskID names the task materialized for an agent's curriculum step.
func OnboardingTaskID(stepID, agentID string) string {
	return fmt.Sprintf("onboarding_%s_%s", stepID, agentID)
}
