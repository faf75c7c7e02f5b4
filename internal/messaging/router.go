package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentcoord/internal/domain"
)

// Directory is the slice of the agent registry the router needs.
type Directory interface {
	Get(id string) (domain.Agent, bool)
	List() []domain.Agent
}

type Router struct {
	queue     *Queue
	directory Directory
	now       func() time.Time
	newID     func() string

	mu    sync.RWMutex
	rules map[string][]string
}

func NewRouter(queue *Queue, directory Directory) *Router {
	return &Router{
		queue:     queue,
		directory: directory,
		now:       time.Now,
		newID:     uuid.NewString,
		rules:     make(map[string][]string),
	}
}

// Send validates both parties and enqueues a fresh pending message.
func (r *Router) Send(senderID, recipientID string, content any, priority domain.Priority) (domain.Message, error) {
	if _, ok := r.directory.Get(senderID); !ok {
		return domain.Message{}, fmt.Errorf("sender %s: %w", senderID, domain.ErrNotFound)
	}
	if _, ok := r.directory.Get(recipientID); !ok {
		return domain.Message{}, fmt.Errorf("recipient %s: %w", recipientID, domain.ErrNotFound)
	}
	return r.enqueue(senderID, recipientID, content, priority)
}

// Broadcast sends to every registered agent except the sender. The first
// failure aborts the fan-out; messages already enqueued stay queued and are
// returned alongside the error.
func (r *Router) Broadcast(senderID string, content any, priority domain.Priority) ([]domain.Message, error) {
	if _, ok := r.directory.Get(senderID); !ok {
		return nil, fmt.Errorf("sender %s: %w", senderID, domain.ErrNotFound)
	}
	agents := r.directory.List()
	sent := make([]domain.Message, 0, len(agents))
	for _, agent := range agents {
		if agent.ID == senderID {
			continue
		}
		msg, err := r.enqueue(senderID, agent.ID, content, priority)
		if err != nil {
			return sent, fmt.Errorf("broadcast to %s: %w", agent.ID, err)
		}
		sent = append(sent, msg)
	}
	return sent, nil
}

// Route enqueues one copy of msg for every rule recipient registered against
// its recipient. The original message is left as is.
func (r *Router) Route(msg domain.Message) ([]domain.Message, error) {
	targets := r.RoutingRules(msg.RecipientID)
	copies := make([]domain.Message, 0, len(targets))
	for _, target := range targets {
		routed, err := r.enqueue(msg.SenderID, target, msg.Content, msg.Priority)
		if err != nil {
			return copies, fmt.Errorf("route %s to %s: %w", msg.ID, target, err)
		}
		copies = append(copies, routed)
	}
	return copies, nil
}

func (r *Router) AddRoutingRule(recipientID string, ruleRecipients ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[recipientID] = append(r.rules[recipientID], ruleRecipients...)
}

func (r *Router) RemoveRoutingRule(recipientID, ruleRecipient string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules := r.rules[recipientID]
	for i, existing := range rules {
		if existing == ruleRecipient {
			r.rules[recipientID] = append(rules[:i:i], rules[i+1:]...)
			break
		}
	}
	if len(r.rules[recipientID]) == 0 {
		delete(r.rules, recipientID)
	}
}

func (r *Router) RoutingRules(recipientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.rules[recipientID]...)
}

func (r *Router) Undelivered(agentID string) []domain.Message {
	messages := r.queue.ListForAgent(agentID)
	out := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Status == domain.MessageStatusPending {
			out = append(out, msg)
		}
	}
	return out
}

// Acknowledge marks the message processed regardless of its current status.
func (r *Router) Acknowledge(messageID string) error {
	return r.queue.UpdateStatus(messageID, domain.MessageStatusProcessed)
}

func (r *Router) enqueue(senderID, recipientID string, content any, priority domain.Priority) (domain.Message, error) {
	msg := domain.Message{
		ID:          r.newID(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Priority:    priority,
		Status:      domain.MessageStatusPending,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.queue.Enqueue(msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}
