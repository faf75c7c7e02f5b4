package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"agentcoord/internal/domain"
)

// Coordinator is the part of the coordination service a worker talks to.
type Coordinator interface {
	RegisterAgent(ctx context.Context, id string, capabilities, resources []string) (domain.Agent, error)
	Heartbeat(ctx context.Context, id string) (domain.Agent, error)
	Subscribe(agentID string) <-chan domain.Notification
	Unsubscribe(agentID string)
	NextMessage(agentID string) (domain.Message, bool, error)
	Acknowledge(messageID string) error
	UpdateMessageStatus(messageID string, status domain.MessageStatus) error
	ClaimNextTask(ctx context.Context, agentID string, priorities ...domain.Priority) (domain.Task, bool, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (domain.Task, error)
	SubmitOnboardingResults(ctx context.Context, agentID, stepID string, results map[string]any) (domain.OnboardingStatus, bool, error)
	SyncState(ctx context.Context, agentID, key string, value any) (domain.StateVersion, error)
}

// Handler does the actual work. For onboarding tasks the returned results
// are checked against the step's completion criteria.
type Handler interface {
	HandleTask(ctx context.Context, task domain.Task) (map[string]any, error)
	HandleMessage(ctx context.Context, msg domain.Message) error
}

type WorkerConfig struct {
	ID           string
	Capabilities []string
	Resources    []string
	// PollInterval paces heartbeats and polling when no notification arrives.
	PollInterval time.Duration
}

// Worker is an agent runtime: it registers with the coordinator, keeps its
// heartbeat fresh, drains its mailbox and works through the tasks it claims.
type Worker struct {
	cfg     WorkerConfig
	coord   Coordinator
	handler Handler
	logger  *log.Logger
	wg      sync.WaitGroup
}

func NewWorker(cfg WorkerConfig, coord Coordinator, handler Handler, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{cfg: cfg, coord: coord, handler: handler, logger: logger}
}

func (w *Worker) ID() string {
	return w.cfg.ID
}

// Start registers the worker and runs its loop until ctx is done. A worker
// that is already registered resumes under the same id.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.coord.RegisterAgent(ctx, w.cfg.ID, w.cfg.Capabilities, w.cfg.Resources); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return fmt.Errorf("register worker %s: %w", w.cfg.ID, err)
	}
	inbox := w.coord.Subscribe(w.cfg.ID)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.coord.Unsubscribe(w.cfg.ID)

		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-inbox:
				if !ok {
					inbox = nil
					continue
				}
				w.handleNotification(ctx, n)
			case <-ticker.C:
				w.heartbeat(ctx)
				w.RunOnce(ctx)
			}
		}
	}()
	return nil
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

// RunOnce drains the mailbox and then works claimed tasks until none is left.
// It reports how many tasks were processed.
func (w *Worker) RunOnce(ctx context.Context) int {
	w.drainMailbox(ctx)
	processed := 0
	for ctx.Err() == nil {
		task, ok, err := w.coord.ClaimNextTask(ctx, w.cfg.ID)
		if err != nil {
			w.logger.Printf("worker %s claim task: %v", w.cfg.ID, err)
			return processed
		}
		if !ok {
			return processed
		}
		if !w.runTask(ctx, task) {
			return processed + 1
		}
		processed++
	}
	return processed
}

func (w *Worker) handleNotification(ctx context.Context, n domain.Notification) {
	switch n.Kind {
	case domain.NotificationMessageArrived:
		w.drainMailbox(ctx)
	case domain.NotificationTaskAssigned:
		w.RunOnce(ctx)
	case domain.NotificationStateChanged:
		if n.State != nil {
			w.logger.Printf("worker %s saw %s v%d from %s", w.cfg.ID, n.Key, n.State.Version, n.State.AgentID)
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	if _, err := w.coord.Heartbeat(ctx, w.cfg.ID); err != nil {
		w.logger.Printf("worker %s heartbeat: %v", w.cfg.ID, err)
	}
}

func (w *Worker) drainMailbox(ctx context.Context) {
	for ctx.Err() == nil {
		msg, ok, err := w.coord.NextMessage(w.cfg.ID)
		if err != nil {
			w.logger.Printf("worker %s next message: %v", w.cfg.ID, err)
			return
		}
		if !ok {
			return
		}
		if err := w.handler.HandleMessage(ctx, msg); err != nil {
			w.logger.Printf("worker %s message %s from %s failed: %v", w.cfg.ID, msg.ID, msg.SenderID, err)
			if err := w.coord.UpdateMessageStatus(msg.ID, domain.MessageStatusFailed); err != nil {
				w.logger.Printf("worker %s mark %s failed: %v", w.cfg.ID, msg.ID, err)
			}
			continue
		}
		if err := w.coord.Acknowledge(msg.ID); err != nil {
			w.logger.Printf("worker %s ack %s: %v", w.cfg.ID, msg.ID, err)
		}
	}
}

// runTask reports whether the worker should keep claiming. A failed
// onboarding step stops the round so it is retried on the next tick.
func (w *Worker) runTask(ctx context.Context, task domain.Task) bool {
	if _, err := w.coord.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusInProgress); err != nil {
		w.logger.Printf("worker %s start task %s: %v", w.cfg.ID, task.ID, err)
		return false
	}

	stop := startProgressHeartbeat(ctx, w.cfg.PollInterval, func(time.Duration) { w.heartbeat(ctx) })
	results, err := w.handler.HandleTask(ctx, task)
	stop()

	if task.IsOnboarding {
		return w.finishOnboarding(ctx, task, results, err)
	}
	if err != nil {
		w.logger.Printf("worker %s task %s failed: %v", w.cfg.ID, task.ID, err)
		w.setStatus(ctx, task.ID, domain.TaskStatusFailed)
		return true
	}
	if len(results) > 0 {
		if _, err := w.coord.SyncState(ctx, w.cfg.ID, "task."+task.ID+".result", results); err != nil {
			w.logger.Printf("worker %s publish result %s: %v", w.cfg.ID, task.ID, err)
		}
	}
	w.setStatus(ctx, task.ID, domain.TaskStatusCompleted)
	w.logger.Printf("worker %s completed %s: %s", w.cfg.ID, task.ID, trim(task.Description, 60))
	return true
}

func (w *Worker) finishOnboarding(ctx context.Context, task domain.Task, results map[string]any, handlerErr error) bool {
	if handlerErr != nil {
		w.logger.Printf("worker %s onboarding %s failed: %v", w.cfg.ID, task.OnboardingStep, handlerErr)
		w.setStatus(ctx, task.ID, domain.TaskStatusFailed)
		return false
	}
	status, complete, err := w.coord.SubmitOnboardingResults(ctx, w.cfg.ID, task.OnboardingStep, results)
	if err != nil {
		w.logger.Printf("worker %s submit onboarding %s: %v", w.cfg.ID, task.OnboardingStep, err)
		w.setStatus(ctx, task.ID, domain.TaskStatusFailed)
		return false
	}
	if !complete {
		w.setStatus(ctx, task.ID, domain.TaskStatusFailed)
		return false
	}
	w.logger.Printf("worker %s onboarding %d/%d", w.cfg.ID, status.CompletedSteps, status.TotalSteps)
	return true
}

func (w *Worker) setStatus(ctx context.Context, taskID string, status domain.TaskStatus) {
	if _, err := w.coord.UpdateTaskStatus(ctx, taskID, status); err != nil {
		w.logger.Printf("worker %s set %s %s: %v", w.cfg.ID, taskID, status, err)
	}
}

func startProgressHeartbeat(ctx context.Context, interval time.Duration, onTick func(elapsed time.Duration)) func() {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	stop := make(chan struct{})
	started := time.Now()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if onTick != nil {
					onTick(time.Since(started))
				}
			}
		}
	}()

	return func() {
		close(stop)
	}
}

// trim shortens s to at most n runes, ending in "..." when cut.
func trim(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
