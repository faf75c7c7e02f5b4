package messaging

import (
	"fmt"
	"sort"
	"sync"

	"agentcoord/internal/domain"
)

// ReliabilitySource reports an agent's reliability score.
type ReliabilitySource interface {
	Reliability(agentID string) (float64, error)
}

// DefaultThresholds maps each priority to the minimum sender reliability that earns it.
func DefaultThresholds() map[domain.Priority]float64 {
	return map[domain.Priority]float64{
		domain.PriorityCritical: 0.9,
		domain.PriorityHigh:     0.7,
		domain.PriorityMedium:   0.5,
		domain.PriorityLow:      0.3,
	}
}

type PriorityHandler struct {
	queue       *Queue
	reliability ReliabilitySource

	mu         sync.RWMutex
	thresholds map[domain.Priority]float64
}

func NewPriorityHandler(queue *Queue, reliability ReliabilitySource) *PriorityHandler {
	return &PriorityHandler{
		queue:       queue,
		reliability: reliability,
		thresholds:  DefaultThresholds(),
	}
}

// AdjustPriority derives the priority msg deserves from its sender's
// reliability. The queued message is not modified.
func (h *PriorityHandler) AdjustPriority(msg domain.Message) (domain.Priority, error) {
	score, err := h.reliability.Reliability(msg.SenderID)
	if err != nil {
		return domain.PriorityLow, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, priority := range domain.PrioritiesDescending {
		if priority == domain.PriorityLow {
			break
		}
		if score >= h.thresholds[priority] {
			return priority, nil
		}
	}
	return domain.PriorityLow, nil
}

func (h *PriorityHandler) Threshold(priority domain.Priority) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.thresholds[priority]
}

func (h *PriorityHandler) Thresholds() map[domain.Priority]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[domain.Priority]float64, len(h.thresholds))
	for k, v := range h.thresholds {
		out[k] = v
	}
	return out
}

func (h *PriorityHandler) SetThreshold(priority domain.Priority, value float64) error {
	if !priority.Valid() {
		return fmt.Errorf("priority %d: %w", int(priority), domain.ErrInvalidArgument)
	}
	if value < 0 || value > 1 {
		return fmt.Errorf("threshold %v out of range [0,1]: %w", value, domain.ErrInvalidArgument)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thresholds[priority] = value
	return nil
}

func (h *PriorityHandler) ByPriority(priority domain.Priority) []domain.Message {
	all := h.queue.List()
	out := make([]domain.Message, 0, len(all))
	for _, msg := range all {
		if msg.Priority == priority {
			out = append(out, msg)
		}
	}
	return out
}

// HighPriority returns the agent's critical and high messages in arrival order.
func (h *PriorityHandler) HighPriority(agentID string) []domain.Message {
	messages := h.queue.ListForAgent(agentID)
	out := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Priority >= domain.PriorityHigh {
			out = append(out, msg)
		}
	}
	return out
}

// Prioritize returns a copy sorted by priority then creation time, both
// descending. Ties keep their input order.
func (h *PriorityHandler) Prioritize(messages []domain.Message) []domain.Message {
	out := append([]domain.Message(nil), messages...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Distribution counts queued messages per priority; every priority is present.
func (h *PriorityHandler) Distribution() map[domain.Priority]int {
	out := make(map[domain.Priority]int, len(domain.PrioritiesDescending))
	for _, priority := range domain.PrioritiesDescending {
		out[priority] = 0
	}
	for _, msg := range h.queue.List() {
		out[msg.Priority]++
	}
	return out
}
