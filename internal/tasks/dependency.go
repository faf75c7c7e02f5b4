package tasks

import (
	"fmt"
	"sort"
	"sync"

	"agentcoord/internal/domain"
)

// DependencyGraph holds task -> prerequisite edges. Iteration follows the
// order tasks were first added and sorted prerequisite ids, so cycle checks
// and orderings are deterministic.
type DependencyGraph struct {
	mu    sync.RWMutex
	edges map[string]map[string]struct{}
	order []string
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string]map[string]struct{})}
}

func (g *DependencyGraph) AddDependencies(taskID string, deps ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.edges[taskID]
	if !ok {
		set = make(map[string]struct{})
		g.edges[taskID] = set
		g.order = append(g.order, taskID)
	}
	for _, dep := range deps {
		set[dep] = struct{}{}
	}
}

func (g *DependencyGraph) RemoveDependencies(taskID string, deps ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.edges[taskID]
	if !ok {
		return
	}
	for _, dep := range deps {
		delete(set, dep)
	}
}

// Forget drops taskID and all of its outgoing edges.
func (g *DependencyGraph) Forget(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.edges[taskID]; !ok {
		return
	}
	delete(g.edges, taskID)
	for i, id := range g.order {
		if id == taskID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.edges[taskID])
}

func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0)
	for _, id := range g.order {
		if _, ok := g.edges[id][taskID]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IsReady reports whether every dependency listed on the task exists in
// tasks and is completed. Unknown dependencies block the task.
func IsReady(task domain.Task, tasks map[string]domain.Task) bool {
	for _, depID := range task.Dependencies {
		dep, ok := tasks[depID]
		if !ok || dep.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// ReadyTasks returns the pending tasks whose dependencies are all completed,
// oldest first.
func ReadyTasks(tasks map[string]domain.Task) []domain.Task {
	out := make([]domain.Task, 0)
	for _, task := range tasks {
		if task.Status == domain.TaskStatusPending && IsReady(task, tasks) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

func (g *DependencyGraph) hasCycleLocked() bool {
	visiting := map[string]bool{}
	visited := map[string]bool{}
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range sortedKeys(g.edges[id]) {
			if dfs(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}
	for _, id := range g.order {
		if dfs(id) {
			return true
		}
	}
	return false
}

// TaskOrder returns every task in the graph, prerequisites included, with each
// dependency placed before the tasks that need it.
func (g *DependencyGraph) TaskOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.hasCycleLocked() {
		return nil, fmt.Errorf("task order: %w", domain.ErrCycleDetected)
	}

	visited := map[string]bool{}
	order := make([]string, 0, len(g.edges))
	var dfs func(id string)
	dfs = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range sortedKeys(g.edges[id]) {
			dfs(dep)
		}
		order = append(order, id)
	}
	for _, id := range g.order {
		dfs(id)
	}
	return order, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
