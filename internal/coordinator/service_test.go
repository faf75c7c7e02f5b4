package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcoord/internal/domain"
	"agentcoord/internal/messaging/inproc"
)

type memJournal struct {
	mu      sync.Mutex
	entries []domain.DecisionLog
}

func (j *memJournal) LogDecision(_ context.Context, entry domain.DecisionLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.ID = int64(len(j.entries) + 1)
	j.entries = append(j.entries, entry)
	return nil
}

func (j *memJournal) ListDecisions(_ context.Context, subject string, _ int) ([]domain.DecisionLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.DecisionLog, 0)
	for i := len(j.entries) - 1; i >= 0; i-- {
		if subject == "" || j.entries[i].Subject == subject {
			out = append(out, j.entries[i])
		}
	}
	return out, nil
}

func (j *memJournal) CountByAction(context.Context) (map[string]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int)
	for _, entry := range j.entries {
		out[entry.Action]++
	}
	return out, nil
}

func (j *memJournal) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.entries[:0]
	for _, entry := range j.entries {
		if !entry.CreatedAt.Before(cutoff) {
			kept = append(kept, entry)
		}
	}
	removed := int64(len(j.entries) - len(kept))
	j.entries = kept
	return removed, nil
}

func (j *memJournal) actions(subject string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0)
	for _, entry := range j.entries {
		if entry.Subject == subject {
			out = append(out, entry.Action)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	journal *memJournal
	bus     *inproc.Bus
	clock   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		journal: &memJournal{},
		bus:     inproc.New(16),
		clock:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := New(f.journal, f.bus, cfg, nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T, id string, capabilities ...string) {
	t.Helper()
	_, err := f.svc.RegisterAgent(context.Background(), id, capabilities, nil)
	require.NoError(t, err)
}

func receive(t *testing.T, ch <-chan domain.Notification) domain.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
		return domain.Notification{}
	}
}

func TestNewRejectsInvalidThresholds(t *testing.T) {
	_, err := New(nil, nil, Config{
		PriorityThresholds: map[domain.Priority]float64{domain.PriorityHigh: 1.5},
	}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRegisterAgentOpensProfile(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	agent, err := f.svc.RegisterAgent(ctx, "a1", []string{"python", "python"}, []string{"gpu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, agent.Capabilities)
	assert.Equal(t, f.clock, agent.LastHeartbeat)

	profile, err := f.svc.Profile("a1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, profile.ReliabilityScore)

	_, err = f.svc.RegisterAgent(ctx, "a1", nil, nil)
	require.ErrorIs(t, err, domain.ErrDuplicate)

	reliability := 0.6
	profile, err = f.svc.UpdateProfile(ctx, "a1", ProfileUpdate{
		Reliability:     &reliability,
		Specializations: []string{"parsing"},
		Metrics:         map[string]float64{"latency_ms": 120},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.6, profile.ReliabilityScore)
	assert.Equal(t, []string{"parsing"}, profile.SpecializationAreas)
	assert.Equal(t, 120.0, profile.PerformanceMetrics["latency_ms"])

	assert.Equal(t, []string{"agent_registered", "profile_updated"}, f.journal.actions("a1"))
}

func TestWatchdogMarksSilentAgentsInactive(t *testing.T) {
	f := newFixture(t, Config{HeartbeatTimeout: 30 * time.Second})
	ctx := context.Background()
	f.register(t, "quiet")
	f.register(t, "chatty")

	f.clock = f.clock.Add(20 * time.Second)
	_, err := f.svc.Heartbeat(ctx, "chatty")
	require.NoError(t, err)

	f.clock = f.clock.Add(15 * time.Second)
	f.svc.watchdogOnce(ctx)

	quiet, err := f.svc.Agent("quiet")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusInactive, quiet.Status)
	chatty, err := f.svc.Agent("chatty")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusActive, chatty.Status)

	revived, err := f.svc.Heartbeat(ctx, "quiet")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusActive, revived.Status)
	assert.Equal(t, []string{"agent_registered", "agent_inactive", "agent_reactivated"}, f.journal.actions("quiet"))

	h := f.svc.Health()
	assert.Equal(t, 2, h.Agents)
	assert.Equal(t, 2, h.ActiveAgents)
}

func TestWatchdogPrunesJournalPastRetention(t *testing.T) {
	f := newFixture(t, Config{JournalRetention: time.Hour})
	ctx := context.Background()
	f.register(t, "old")

	f.clock = f.clock.Add(2 * time.Hour)
	f.register(t, "new")
	_, err := f.svc.Heartbeat(ctx, "old")
	require.NoError(t, err)

	f.svc.watchdogOnce(ctx)
	assert.Empty(t, f.journal.actions("old"))
	assert.Equal(t, []string{"agent_registered"}, f.journal.actions("new"))

	counts, err := f.svc.DecisionCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"agent_registered": 1}, counts)
}

func TestWatchdogKeepsJournalWithoutRetention(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "a")
	f.clock = f.clock.Add(24 * 365 * time.Hour)
	f.svc.watchdogOnce(ctx)
	assert.Contains(t, f.journal.actions("a"), "agent_registered")
}

func TestDecisionCountsWithoutStatsJournal(t *testing.T) {
	svc, err := New(nil, nil, Config{}, nil)
	require.NoError(t, err)
	counts, err := svc.DecisionCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHealthCountsSubscribedAgents(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, "a")
	f.register(t, "b")
	f.svc.Subscribe("a")

	assert.True(t, f.svc.Subscribed("a"))
	assert.False(t, f.svc.Subscribed("b"))
	assert.Equal(t, 1, f.svc.Health().SubscribedAgents)

	require.NoError(t, f.svc.RemoveAgent(context.Background(), "a"))
	assert.False(t, f.svc.Subscribed("a"))
	assert.Equal(t, 0, f.svc.Health().SubscribedAgents)
}

func TestAllocateResourceJournalsOutcome(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "a1")
	f.register(t, "a2")

	_, err := f.svc.RegisterResource(ctx, "gpu-1", "gpu", 1)
	require.NoError(t, err)

	granted, err := f.svc.AllocateResource(ctx, "a1", "gpu-1", 1)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = f.svc.AllocateResource(ctx, "a2", "gpu-1", 0.5)
	require.NoError(t, err)
	assert.False(t, granted)

	_, err = f.svc.AllocateResource(ctx, "ghost", "gpu-1", 0.5)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = f.svc.ReleaseResource(ctx, "a2", "gpu-1", 1)
	require.ErrorIs(t, err, domain.ErrOwnershipMismatch)
	require.NoError(t, f.svc.ReleaseResource(ctx, "a1", "gpu-1", 1))

	views := f.svc.Resources("gpu", true)
	require.Len(t, views, 1)
	assert.Equal(t, 0.0, views[0].Utilization)
	assert.Equal(t, []string{"resource_registered", "resource_allocated", "resource_denied", "resource_released"}, f.journal.actions("gpu-1"))
}

func TestCreateTaskRollsBackCycle(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, CreateTaskInput{ID: "A", Description: "first", Dependencies: []string{"B"}})
	require.NoError(t, err)

	_, err = f.svc.CreateTask(ctx, CreateTaskInput{ID: "B", Description: "second", Dependencies: []string{"A"}})
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	_, err = f.svc.Task("B")
	require.ErrorIs(t, err, domain.ErrNotFound)

	order, err := f.svc.TaskOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, order)
	assert.Equal(t, []string{"task_rejected"}, f.journal.actions("B"))

	generated, err := f.svc.CreateTask(ctx, CreateTaskInput{Description: "no id"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestDispatchOnceAssignsReadyTasks(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "coder", "python")
	f.register(t, "writer", "docs")
	inbox := f.svc.Subscribe("coder")

	_, err := f.svc.CreateTask(ctx, CreateTaskInput{ID: "t1", Description: "write python parser", Priority: domain.PriorityHigh})
	require.NoError(t, err)
	_, err = f.svc.CreateTask(ctx, CreateTaskInput{ID: "t2", Description: "python tests", Dependencies: []string{"t1"}})
	require.NoError(t, err)

	require.NoError(t, f.svc.dispatchOnce(ctx))

	t1, err := f.svc.Task("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAssigned, t1.Status)
	assert.Equal(t, "coder", t1.AssignedAgent)

	t2, err := f.svc.Task("t2")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, t2.Status)
	assert.Empty(t, t2.AssignedAgent)

	n := receive(t, inbox)
	assert.Equal(t, domain.NotificationTaskAssigned, n.Kind)
	assert.Equal(t, "t1", n.TaskID)

	_, err = f.svc.UpdateTaskStatus(ctx, "t1", domain.TaskStatusCompleted)
	require.NoError(t, err)
	profile, err := f.svc.Profile("coder")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, profile.HistoricalTasks)

	require.NoError(t, f.svc.dispatchOnce(ctx))
	t2, err = f.svc.Task("t2")
	require.NoError(t, err)
	assert.Equal(t, "coder", t2.AssignedAgent)
	assert.Equal(t, 1, f.svc.Workload("coder"))
}

func TestClaimNextTaskRunsOnboardingFirst(t *testing.T) {
	f := newFixture(t, Config{Curriculum: []domain.OnboardingStep{{
		ID:                 "basics",
		Description:        "learn the basics",
		CompletionCriteria: map[string]any{"quiz_score": 0.8},
	}}})
	ctx := context.Background()
	f.register(t, "a1")

	_, err := f.svc.CreateTask(ctx, CreateTaskInput{ID: "t1", Description: "real work"})
	require.NoError(t, err)

	task, ok, err := f.svc.ClaimNextTask(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, task.IsOnboarding)
	assert.Equal(t, "onboarding_basics_a1", task.ID)

	status, complete, err := f.svc.SubmitOnboardingResults(ctx, "a1", "basics", map[string]any{"quiz_score": 0.5})
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, 0, status.CompletedSteps)

	status, complete, err = f.svc.SubmitOnboardingResults(ctx, "a1", "basics", map[string]any{"quiz_score": 0.9})
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, 1, status.CompletedSteps)
	assert.Equal(t, 1.0, status.Progress)

	onboarding, err := f.svc.Task("onboarding_basics_a1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, onboarding.Status)

	task, ok, err = f.svc.ClaimNextTask(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status)

	_, _, err = f.svc.ClaimNextTask(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSendMessageRoutesAndNotifies(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "a")
	f.register(t, "b")
	f.register(t, "c")
	inboxB := f.svc.Subscribe("b")
	inboxC := f.svc.Subscribe("c")

	require.NoError(t, f.svc.AddRoutingRule(ctx, "b", "c"))
	require.ErrorIs(t, f.svc.AddRoutingRule(ctx, "b", "ghost"), domain.ErrNotFound)

	sent, err := f.svc.SendMessage(ctx, SendMessageInput{From: "a", To: "b", Content: "hello", AdjustPriority: true})
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, "b", sent[0].RecipientID)
	assert.Equal(t, "c", sent[1].RecipientID)
	assert.Equal(t, domain.PriorityCritical, sent[0].Priority)

	assert.Equal(t, sent[0].ID, receive(t, inboxB).MessageID)
	assert.Equal(t, sent[1].ID, receive(t, inboxC).MessageID)

	msg, ok, err := f.svc.NextMessage("b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MessageStatusDelivered, msg.Status)
	require.NoError(t, f.svc.Acknowledge(msg.ID))

	_, ok, err = f.svc.NextMessage("b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.svc.ClearProcessedMessages(ctx))

	_, err = f.svc.SendMessage(ctx, SendMessageInput{From: "ghost", To: "b"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBroadcastSkipsSender(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "a")
	f.register(t, "b")
	f.register(t, "c")

	sent, err := f.svc.Broadcast(ctx, "a", map[string]string{"event": "deploy"}, domain.PriorityMedium)
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Len(t, f.svc.UndeliveredMessages("b"), 1)
	assert.Empty(t, f.svc.UndeliveredMessages("a"))
}

func TestSyncStateAndResolveConflict(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "a")
	f.register(t, "b")
	inboxB := f.svc.Subscribe("b")

	high, low := 0.95, 0.4
	_, err := f.svc.UpdateProfile(ctx, "a", ProfileUpdate{Reliability: &high})
	require.NoError(t, err)
	_, err = f.svc.UpdateProfile(ctx, "b", ProfileUpdate{Reliability: &low})
	require.NoError(t, err)

	first, err := f.svc.SyncState(ctx, "a", "config", map[string]any{"mode": "fast"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	n := receive(t, inboxB)
	assert.Equal(t, domain.NotificationStateChanged, n.Kind)
	assert.Equal(t, "config", n.Key)

	pending, err := f.svc.PendingUpdates("b")
	require.NoError(t, err)
	assert.Contains(t, pending, "config")

	second, err := f.svc.SyncState(ctx, "b", "config", map[string]any{"mode": "safe"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	winner, err := f.svc.ResolveState(ctx, "config")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.AgentID)
	assert.Equal(t, []string{"state_conflict_resolved"}, f.journal.actions("config"))

	_, err = f.svc.ResolveState(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.SyncState(ctx, "a", "", 1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.svc.SyncState(ctx, "ghost", "config", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	own, err := f.svc.State("config", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, own.Version)
	assert.Len(t, f.svc.StateHistory("config"), 2)
}

func TestStartStopsWithContext(t *testing.T) {
	f := newFixture(t, Config{AutoAssign: true, DispatchInterval: 5 * time.Millisecond, WatchdogInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		f.svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("service loops did not stop")
	}
}
