package messaging

import (
	"fmt"
	"sync"
	"time"

	"agentcoord/internal/domain"
)

// Queue is the in-memory mailbox. Messages are indexed per priority bucket and
// per recipient, both in enqueue order, and are never removed by delivery.
type Queue struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	buckets  map[domain.Priority][]string
	inboxes  map[string][]string
	now      func() time.Time
}

func NewQueue() *Queue {
	return &Queue{
		messages: make(map[string]*domain.Message),
		buckets:  make(map[domain.Priority][]string),
		inboxes:  make(map[string][]string),
		now:      time.Now,
	}
}

func (q *Queue) Enqueue(msg domain.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required: %w", domain.ErrInvalidArgument)
	}
	if !msg.Priority.Valid() {
		return fmt.Errorf("message %s priority %d: %w", msg.ID, int(msg.Priority), domain.ErrInvalidArgument)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.messages[msg.ID]; ok {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrDuplicate)
	}
	if msg.Status == "" {
		msg.Status = domain.MessageStatusPending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = q.now().UTC()
	}
	q.messages[msg.ID] = &msg
	q.buckets[msg.Priority] = append(q.buckets[msg.Priority], msg.ID)
	q.inboxes[msg.RecipientID] = append(q.inboxes[msg.RecipientID], msg.ID)
	return nil
}

// Dequeue hands out the most urgent pending message for agentID, oldest first
// within a priority, and marks it delivered. ok is false when nothing is pending.
func (q *Queue) Dequeue(agentID string) (domain.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inbox := q.inboxes[agentID]
	for _, priority := range domain.PrioritiesDescending {
		for _, id := range inbox {
			msg := q.messages[id]
			if msg.Priority != priority || msg.Status != domain.MessageStatusPending {
				continue
			}
			msg.Status = domain.MessageStatusDelivered
			return *msg, true
		}
	}
	return domain.Message{}, false
}

// UpdateStatus sets the status; moving to processed stamps ProcessedAt.
func (q *Queue) UpdateStatus(id string, status domain.MessageStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	msg.Status = status
	if status == domain.MessageStatusProcessed {
		ts := q.now().UTC()
		msg.ProcessedAt = &ts
	}
	return nil
}

func (q *Queue) Get(id string) (domain.Message, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	msg, ok := q.messages[id]
	if !ok {
		return domain.Message{}, false
	}
	return *msg, true
}

// List returns every queued message in bucket order, most urgent first.
func (q *Queue) List() []domain.Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.Message, 0, len(q.messages))
	for _, priority := range domain.PrioritiesDescending {
		for _, id := range q.buckets[priority] {
			out = append(out, *q.messages[id])
		}
	}
	return out
}

func (q *Queue) ListByStatus(status domain.MessageStatus) []domain.Message {
	all := q.List()
	out := make([]domain.Message, 0, len(all))
	for _, msg := range all {
		if msg.Status == status {
			out = append(out, msg)
		}
	}
	return out
}

func (q *Queue) ListForAgent(agentID string) []domain.Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	inbox := q.inboxes[agentID]
	out := make([]domain.Message, 0, len(inbox))
	for _, id := range inbox {
		out = append(out, *q.messages[id])
	}
	return out
}

func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	q.removeLocked(id)
	return nil
}

// ClearProcessed drops every processed message and reports how many were removed.
func (q *Queue) ClearProcessed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, msg := range q.messages {
		if msg.Status == domain.MessageStatusProcessed {
			q.removeLocked(id)
			removed++
		}
	}
	return removed
}

func (q *Queue) removeLocked(id string) {
	msg := q.messages[id]
	delete(q.messages, id)
	q.buckets[msg.Priority] = without(q.buckets[msg.Priority], id)
	q.inboxes[msg.RecipientID] = without(q.inboxes[msg.RecipientID], id)
	if len(q.inboxes[msg.RecipientID]) == 0 {
		delete(q.inboxes, msg.RecipientID)
	}
}

func without(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
