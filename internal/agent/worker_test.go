package agent

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
	"agentcoord/internal/messaging/inproc"
)

var quietLogger = log.New(io.Discard, "", 0)

func newTestCoordinator(t *testing.T, steps []domain.OnboardingStep) *coordinator.Service {
	t.Helper()
	svc, err := coordinator.New(nil, inproc.New(8), coordinator.Config{Curriculum: steps}, quietLogger)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return svc
}

func TestWorkerRunOnceOnboardsThenWorks(t *testing.T) {
	ctx := context.Background()
	steps := []domain.OnboardingStep{{
		ID:                 "intro",
		Description:        "read the handbook",
		CompletionCriteria: map[string]any{"quiz_score": 0.8, "ready": true},
	}}
	svc := newTestCoordinator(t, steps)

	if _, err := svc.RegisterAgent(ctx, "boss", nil, nil); err != nil {
		t.Fatalf("register boss: %v", err)
	}
	if _, err := svc.RegisterAgent(ctx, "w1", []string{"summarize"}, nil); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if _, err := svc.CreateTask(ctx, coordinator.CreateTaskInput{ID: "t1", Description: "summarize report"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	sent, err := svc.SendMessage(ctx, coordinator.SendMessageInput{From: "boss", To: "w1", Content: "welcome"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	w := NewWorker(WorkerConfig{ID: "w1"}, svc, ScriptedHandler{Steps: steps, Logger: quietLogger}, quietLogger)
	if n := w.RunOnce(ctx); n != 2 {
		t.Fatalf("expected onboarding and regular task, processed %d", n)
	}

	msg, err := svc.Message(sent[0].ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != domain.MessageStatusProcessed {
		t.Fatalf("expected message processed, got %s", msg.Status)
	}

	status, err := svc.OnboardingStatus("w1")
	if err != nil {
		t.Fatalf("onboarding status: %v", err)
	}
	if status.Progress != 1 {
		t.Fatalf("expected onboarding finished, got %+v", status)
	}

	task, err := svc.Task("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.TaskStatusCompleted || task.AssignedAgent != "w1" {
		t.Fatalf("unexpected task state: %+v", task)
	}
	if _, err := svc.State("task.t1.result", "w1"); err != nil {
		t.Fatalf("expected published result: %v", err)
	}
	if n := w.RunOnce(ctx); n != 0 {
		t.Fatalf("expected nothing left, processed %d", n)
	}
}

type failingHandler struct{}

func (failingHandler) HandleTask(context.Context, domain.Task) (map[string]any, error) {
	return nil, errors.New("boom")
}

func (failingHandler) HandleMessage(context.Context, domain.Message) error { return nil }

func TestWorkerMarksFailedTasks(t *testing.T) {
	ctx := context.Background()
	svc := newTestCoordinator(t, nil)
	if _, err := svc.RegisterAgent(ctx, "w1", nil, nil); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if _, err := svc.CreateTask(ctx, coordinator.CreateTaskInput{ID: "t1", Description: "doomed"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	w := NewWorker(WorkerConfig{ID: "w1"}, svc, failingHandler{}, quietLogger)
	if n := w.RunOnce(ctx); n != 1 {
		t.Fatalf("expected one processed task, got %d", n)
	}
	task, err := svc.Task("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed task, got %s", task.Status)
	}
	if n := w.RunOnce(ctx); n != 0 {
		t.Fatalf("failed task must not be claimed again, processed %d", n)
	}
}

type rejectingHandler struct{ ScriptedHandler }

func (rejectingHandler) HandleMessage(context.Context, domain.Message) error {
	return errors.New("unreadable")
}

func TestWorkerMarksRejectedMessagesFailed(t *testing.T) {
	ctx := context.Background()
	svc := newTestCoordinator(t, nil)
	for _, id := range []string{"sender", "w1"} {
		if _, err := svc.RegisterAgent(ctx, id, nil, nil); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	sent, err := svc.SendMessage(ctx, coordinator.SendMessageInput{From: "sender", To: "w1", Content: "garbled"})
	if err != nil || len(sent) != 1 {
		t.Fatalf("send message: %v %+v", err, sent)
	}

	w := NewWorker(WorkerConfig{ID: "w1"}, svc, rejectingHandler{ScriptedHandler{Logger: quietLogger}}, quietLogger)
	w.RunOnce(ctx)

	msg, err := svc.Message(sent[0].ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != domain.MessageStatusFailed {
		t.Fatalf("expected failed message, got %s", msg.Status)
	}
	if _, ok, _ := svc.NextMessage("w1"); ok {
		t.Fatal("a failed message must not be redelivered")
	}
}

func TestTrimCountsRunes(t *testing.T) {
	s := strings.Repeat("ж", 70)
	got := trim(s, 60)
	if !utf8.ValidString(got) {
		t.Fatalf("trim produced invalid utf-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 60 || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected 60 runes ending in ..., got %d: %q", n, got)
	}
	if trim("héllo", 5) != "héllo" {
		t.Fatal("a string within the limit must be returned unchanged")
	}
	if trim("abcdef", 2) != "ab" {
		t.Fatalf("unexpected short trim: %q", trim("abcdef", 2))
	}
}

func TestWorkerFailedOnboardingIsRetried(t *testing.T) {
	ctx := context.Background()
	steps := []domain.OnboardingStep{{ID: "intro", CompletionCriteria: map[string]any{"quiz_score": 0.8}}}
	svc := newTestCoordinator(t, steps)

	// The handler knows no steps, so it cannot answer the curriculum.
	w := NewWorker(WorkerConfig{ID: "w1"}, svc, ScriptedHandler{Logger: quietLogger}, quietLogger)
	if _, err := svc.RegisterAgent(ctx, "w1", nil, nil); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if n := w.RunOnce(ctx); n != 1 {
		t.Fatalf("expected one attempt, got %d", n)
	}
	task, err := svc.Task("onboarding_intro_w1")
	if err != nil {
		t.Fatalf("get onboarding task: %v", err)
	}
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed onboarding task, got %s", task.Status)
	}
	next, ok, err := svc.ClaimNextTask(ctx, "w1")
	if err != nil || !ok || next.ID != task.ID {
		t.Fatalf("expected onboarding retry, got %+v ok=%v err=%v", next, ok, err)
	}
}

func TestWorkerStartToleratesExistingRegistration(t *testing.T) {
	svc := newTestCoordinator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := svc.RegisterAgent(ctx, "w1", nil, nil); err != nil {
		t.Fatalf("register worker: %v", err)
	}

	w := NewWorker(WorkerConfig{ID: "w1", PollInterval: 5 * time.Millisecond}, svc, ScriptedHandler{Logger: quietLogger}, quietLogger)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
