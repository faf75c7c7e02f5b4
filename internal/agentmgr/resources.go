package agentmgr

import (
	"fmt"
	"math"
	"sync"

	"agentcoord/internal/domain"
)

// Allocator is a capacity-bounded ledger of resources. Allocation and holder
// bookkeeping happen under one lock so allocated never exceeds capacity.
type Allocator struct {
	mu        sync.RWMutex
	resources map[string]*domain.Resource
	order     []string
	held      map[string]map[string]struct{} // agent id -> resource ids
}

func NewAllocator() *Allocator {
	return &Allocator{
		resources: make(map[string]*domain.Resource),
		held:      make(map[string]map[string]struct{}),
	}
}

func (a *Allocator) Register(resourceID, resourceType string, capacity float64) (domain.Resource, error) {
	if capacity < 0 {
		return domain.Resource{}, fmt.Errorf("resource %s capacity %v: %w", resourceID, capacity, domain.ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.resources[resourceID]; ok {
		return domain.Resource{}, fmt.Errorf("resource %s: %w", resourceID, domain.ErrDuplicate)
	}
	res := &domain.Resource{ID: resourceID, Type: resourceType, Capacity: capacity}
	a.resources[resourceID] = res
	a.order = append(a.order, resourceID)
	return *res, nil
}

// Allocate reserves amount of the resource for agentID. It reports false,
// leaving the ledger untouched, when the request does not fit. The last
// successful allocator becomes the recorded holder.
func (a *Allocator) Allocate(agentID, resourceID string, amount float64) (bool, error) {
	if amount < 0 || math.IsNaN(amount) {
		return false, fmt.Errorf("allocate %v of %s: %w", amount, resourceID, domain.ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.resources[resourceID]
	if !ok {
		return false, fmt.Errorf("resource %s: %w", resourceID, domain.ErrNotFound)
	}
	if res.Allocated+amount > res.Capacity {
		return false, nil
	}
	res.Allocated += amount
	res.AgentID = agentID
	if a.held[agentID] == nil {
		a.held[agentID] = make(map[string]struct{})
	}
	a.held[agentID][resourceID] = struct{}{}
	return true, nil
}

// Release returns amount to the resource. Only the recorded holder may
// release, and allocated never drops below zero.
func (a *Allocator) Release(agentID, resourceID string, amount float64) error {
	if amount < 0 || math.IsNaN(amount) {
		return fmt.Errorf("release %v of %s: %w", amount, resourceID, domain.ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.resources[resourceID]
	if !ok {
		return fmt.Errorf("resource %s: %w", resourceID, domain.ErrNotFound)
	}
	if res.AgentID != agentID {
		return fmt.Errorf("release %s by %s: %w", resourceID, agentID, domain.ErrOwnershipMismatch)
	}
	res.Allocated -= amount
	if res.Allocated < 0 {
		res.Allocated = 0
	}
	if res.Allocated == 0 {
		res.AgentID = ""
		delete(a.held[agentID], resourceID)
		if len(a.held[agentID]) == 0 {
			delete(a.held, agentID)
		}
	}
	return nil
}

func (a *Allocator) Get(resourceID string) (domain.Resource, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	res, ok := a.resources[resourceID]
	if !ok {
		return domain.Resource{}, false
	}
	return *res, true
}

func (a *Allocator) List() []domain.Resource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Resource, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.resources[id])
	}
	return out
}

// ListAvailable returns resources with spare capacity. An empty resourceType matches all.
func (a *Allocator) ListAvailable(resourceType string) []domain.Resource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Resource, 0)
	for _, id := range a.order {
		res := a.resources[id]
		if resourceType != "" && res.Type != resourceType {
			continue
		}
		if res.Allocated < res.Capacity {
			out = append(out, *res)
		}
	}
	return out
}

func (a *Allocator) ListForAgent(agentID string) []domain.Resource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := a.held[agentID]
	out := make([]domain.Resource, 0, len(ids))
	for _, id := range a.order {
		if _, ok := ids[id]; ok {
			out = append(out, *a.resources[id])
		}
	}
	return out
}

func (a *Allocator) Utilization(resourceID string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	res, ok := a.resources[resourceID]
	if !ok {
		return 0, fmt.Errorf("resource %s: %w", resourceID, domain.ErrNotFound)
	}
	if res.Capacity <= 0 {
		return 0, nil
	}
	return res.Allocated / res.Capacity, nil
}
