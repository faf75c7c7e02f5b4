package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"agentcoord/internal/domain"
)

type SendMessageInput struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Content  any             `json:"content"`
	Priority domain.Priority `json:"priority"`
	// AdjustPriority replaces Priority with the one the sender's reliability earns.
	AdjustPriority bool `json:"adjust_priority"`
}

// SendMessage queues a message and a copy for every routing rule registered
// against the recipient. The direct message comes first in the result.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (sent []domain.Message, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.SendMessage",
		attribute.String("message.from", in.From),
		attribute.String("message.to", in.To),
	)
	defer func() { endSpan(span, err) }()

	priority := in.Priority
	if in.AdjustPriority {
		priority, err = s.priority.AdjustPriority(domain.Message{SenderID: in.From})
		if err != nil {
			return nil, fmt.Errorf("adjust priority: %w", err)
		}
	}
	msg, err := s.router.Send(in.From, in.To, in.Content, priority)
	if err != nil {
		return nil, err
	}
	sent = append(sent, msg)
	routed, err := s.router.Route(msg)
	sent = append(sent, routed...)
	for _, m := range sent {
		s.notify(domain.Notification{
			Kind:      domain.NotificationMessageArrived,
			AgentID:   m.RecipientID,
			MessageID: m.ID,
		})
	}
	s.logDecision(ctx, msg.ID, "message_sent", priority.String(), map[string]any{
		"from":   in.From,
		"to":     in.To,
		"routed": len(routed),
	})
	return sent, err
}

// Broadcast sends to every agent but the sender. Messages queued before a
// failure are returned with the error.
func (s *Service) Broadcast(ctx context.Context, from string, content any, priority domain.Priority) ([]domain.Message, error) {
	sent, err := s.router.Broadcast(from, content, priority)
	for _, m := range sent {
		s.notify(domain.Notification{
			Kind:      domain.NotificationMessageArrived,
			AgentID:   m.RecipientID,
			MessageID: m.ID,
		})
	}
	if len(sent) > 0 {
		s.logDecision(ctx, from, "message_broadcast", priority.String(), map[string]any{"recipients": len(sent)})
	}
	return sent, err
}

// NextMessage delivers the agent's most urgent pending message.
func (s *Service) NextMessage(agentID string) (domain.Message, bool, error) {
	if _, err := s.Agent(agentID); err != nil {
		return domain.Message{}, false, err
	}
	msg, ok := s.messages.Dequeue(agentID)
	return msg, ok, nil
}

func (s *Service) Acknowledge(messageID string) error {
	return s.router.Acknowledge(messageID)
}

func (s *Service) UpdateMessageStatus(messageID string, status domain.MessageStatus) error {
	switch status {
	case domain.MessageStatusPending, domain.MessageStatusDelivered, domain.MessageStatusFailed, domain.MessageStatusProcessed:
	default:
		return fmt.Errorf("message status %q: %w", status, domain.ErrInvalidArgument)
	}
	return s.messages.UpdateStatus(messageID, status)
}

func (s *Service) UndeliveredMessages(agentID string) []domain.Message {
	return s.router.Undelivered(agentID)
}

// Messages lists the agent's messages most urgent first, or the whole queue
// in priority order when agentID is empty.
func (s *Service) Messages(agentID string) []domain.Message {
	if agentID == "" {
		return s.messages.List()
	}
	return s.priority.Prioritize(s.messages.ListForAgent(agentID))
}

func (s *Service) Message(id string) (domain.Message, error) {
	msg, ok := s.messages.Get(id)
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return msg, nil
}

func (s *Service) MessagesByPriority(priority domain.Priority) []domain.Message {
	return s.priority.ByPriority(priority)
}

func (s *Service) HighPriorityMessages(agentID string) []domain.Message {
	return s.priority.HighPriority(agentID)
}

func (s *Service) ClearProcessedMessages(ctx context.Context) int {
	n := s.messages.ClearProcessed()
	if n > 0 {
		s.logDecision(ctx, "messages", "messages_cleared", "processed", map[string]int{"removed": n})
	}
	return n
}

func (s *Service) AddRoutingRule(ctx context.Context, recipientID string, targets ...string) error {
	if len(targets) == 0 {
		return fmt.Errorf("routing rule for %s needs a target: %w", recipientID, domain.ErrInvalidArgument)
	}
	for _, id := range append([]string{recipientID}, targets...) {
		if _, err := s.Agent(id); err != nil {
			return err
		}
	}
	s.router.AddRoutingRule(recipientID, targets...)
	s.logDecision(ctx, recipientID, "routing_rule_added", "", targets)
	return nil
}

func (s *Service) RemoveRoutingRule(ctx context.Context, recipientID, target string) {
	s.router.RemoveRoutingRule(recipientID, target)
	s.logDecision(ctx, recipientID, "routing_rule_removed", "", []string{target})
}

func (s *Service) RoutingRules(recipientID string) []string {
	return s.router.RoutingRules(recipientID)
}

func (s *Service) PriorityThresholds() map[domain.Priority]float64 {
	return s.priority.Thresholds()
}

func (s *Service) SetPriorityThreshold(ctx context.Context, priority domain.Priority, value float64) error {
	if err := s.priority.SetThreshold(priority, value); err != nil {
		return err
	}
	s.logDecision(ctx, priority.String(), "priority_threshold_set", "", map[string]float64{"threshold": value})
	return nil
}
