package inproc

import (
	"errors"
	"sync"

	"agentcoord/internal/domain"
)

var (
	ErrAgentNotSubscribed = errors.New("agent is not subscribed to bus")
	ErrAgentInboxFull     = errors.New("agent inbox is full")
)

// Bus pushes notifications to per-agent buffered inboxes. Publishing never
// blocks: a full inbox is reported to the caller and the notification dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Notification
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Notification),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(agentID string) <-chan domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[agentID]; ok {
		return ch
	}
	ch := make(chan domain.Notification, b.buffer)
	b.subs[agentID] = ch
	return ch
}

func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[agentID]
	if !ok {
		return
	}
	delete(b.subs, agentID)
	close(ch)
}

func (b *Bus) Subscribed(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[agentID]
	return ok
}

func (b *Bus) Publish(n domain.Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.subs[n.AgentID]
	if !ok {
		return ErrAgentNotSubscribed
	}

	select {
	case ch <- n:
		return nil
	default:
		return ErrAgentInboxFull
	}
}
