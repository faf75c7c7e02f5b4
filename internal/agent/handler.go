package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"agentcoord/internal/domain"
)

// ScriptedHandler is the demo worker behaviour. It answers each onboarding
// step with exactly the results the step asks for and completes regular
// tasks after WorkDuration.
type ScriptedHandler struct {
	Steps        []domain.OnboardingStep
	WorkDuration time.Duration
	Logger       *log.Logger
}

func (h ScriptedHandler) HandleTask(ctx context.Context, task domain.Task) (map[string]any, error) {
	if task.IsOnboarding {
		for _, step := range h.Steps {
			if step.ID != task.OnboardingStep {
				continue
			}
			results := make(map[string]any, len(step.CompletionCriteria))
			for k, v := range step.CompletionCriteria {
				results[k] = v
			}
			return results, nil
		}
		return nil, fmt.Errorf("onboarding step %s: %w", task.OnboardingStep, domain.ErrNotFound)
	}

	if h.WorkDuration > 0 {
		timer := time.NewTimer(h.WorkDuration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return map[string]any{
		"summary":     "done: " + trim(task.Description, 80),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h ScriptedHandler) HandleMessage(_ context.Context, msg domain.Message) error {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("message %s from %s (%s): %v", msg.ID, msg.SenderID, msg.Priority, msg.Content)
	return nil
}
