package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agentcoord/internal/agentmgr"
	"agentcoord/internal/domain"
	"agentcoord/internal/messaging"
	"agentcoord/internal/messaging/inproc"
	"agentcoord/internal/monitoring"
	"agentcoord/internal/state"
	"agentcoord/internal/tasks"
)

const coordinatorActor = "coordinator"

// Journal records coordination decisions. The sqlite store implements it.
type Journal interface {
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
	ListDecisions(ctx context.Context, subject string, limit int) ([]domain.DecisionLog, error)
}

// journalStats and journalPruner are optional Journal extensions.
type journalStats interface {
	CountByAction(ctx context.Context) (map[string]int, error)
}

type journalPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Bus interface {
	Subscribe(agentID string) <-chan domain.Notification
	Unsubscribe(agentID string)
	Subscribed(agentID string) bool
	Publish(n domain.Notification) error
}

type Config struct {
	DispatchInterval   time.Duration
	WatchdogInterval   time.Duration
	HeartbeatTimeout   time.Duration
	AutoAssign         bool
	PriorityThresholds map[domain.Priority]float64
	ConflictWeights    state.Weights
	AssignmentWeights  tasks.AssignmentWeights
	Curriculum         []domain.OnboardingStep
	Matcher            tasks.Matcher

	// JournalRetention bounds the decision journal; zero keeps everything.
	JournalRetention   time.Duration
	HealthOfflineAfter time.Duration
	ErrorThresholds    map[string]float64
	AlertRules         map[string]monitoring.Rule
}

func (c Config) withDefaults() Config {
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 500 * time.Millisecond
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 3 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.HealthOfflineAfter <= 0 {
		c.HealthOfflineAfter = monitoring.DefaultOfflineAfter
	}
	return c
}

// Service composes the coordination components behind one API and runs the
// background watchdog and dispatch loops.
type Service struct {
	registry  *agentmgr.Registry
	profiler  *agentmgr.Profiler
	allocator *agentmgr.Allocator

	messages *messaging.Queue
	router   *messaging.Router
	priority *messaging.PriorityHandler

	states   *state.Store
	syncer   *state.Synchronizer
	resolver *state.Resolver

	graph    *tasks.DependencyGraph
	tasks    *tasks.Queue
	assigner *tasks.Assigner

	health *monitoring.HealthMonitor
	alerts *monitoring.AlertManager

	journal Journal
	bus     Bus
	cfg     Config
	logger  *log.Logger
	tracer  trace.Tracer
	now     func() time.Time

	wg sync.WaitGroup

	// taskMu serializes task creation so the cycle check and rollback see a
	// stable graph.
	taskMu sync.Mutex
}

// New wires every component. journal and bus may be nil.
func New(journal Journal, bus Bus, cfg Config, logger *log.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if journal == nil {
		journal = nopJournal{}
	}

	registry := agentmgr.NewRegistry()
	profiler := agentmgr.NewProfiler()
	messages := messaging.NewQueue()
	priority := messaging.NewPriorityHandler(messages, profiler)
	for p, threshold := range cfg.PriorityThresholds {
		if err := priority.SetThreshold(p, threshold); err != nil {
			return nil, err
		}
	}
	states := state.NewStore()
	var notifier state.Notifier
	if bus != nil {
		notifier = bus
	}

	s := &Service{
		registry:  registry,
		profiler:  profiler,
		allocator: agentmgr.NewAllocator(),
		messages:  messages,
		router:    messaging.NewRouter(messages, registry),
		priority:  priority,
		states:    states,
		syncer:    state.NewSynchronizer(states, registry, notifier, logger),
		resolver:  state.NewResolver(profiler, cfg.ConflictWeights),
		graph:     tasks.NewDependencyGraph(),
		tasks:     tasks.NewQueue(tasks.NewCurriculum(cfg.Curriculum)),
		assigner:  tasks.NewAssigner(registry, profiler, cfg.Matcher, cfg.AssignmentWeights),
		journal:   journal,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("agentcoord/coordinator"),
		now:       time.Now,
	}
	clock := func() time.Time { return s.now() }
	s.health = monitoring.NewHealthMonitor(cfg.HealthOfflineAfter, cfg.ErrorThresholds, clock)
	s.alerts = monitoring.NewAlertManager(clock)
	for id, rule := range cfg.AlertRules {
		if err := s.alerts.AddRule(id, rule); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.watchdogLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.dispatchLoop(ctx)
	}()
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Config() Config {
	return s.cfg
}

// Subscribe opens the agent's notification inbox. It returns nil when the
// service runs without a bus.
func (s *Service) Subscribe(agentID string) <-chan domain.Notification {
	if s.bus == nil {
		return nil
	}
	return s.bus.Subscribe(agentID)
}

func (s *Service) Unsubscribe(agentID string) {
	if s.bus != nil {
		s.bus.Unsubscribe(agentID)
	}
}

func (s *Service) Decisions(ctx context.Context, subject string, limit int) ([]domain.DecisionLog, error) {
	return s.journal.ListDecisions(ctx, subject, limit)
}

// DecisionCounts tallies journal entries per action. It is empty when the
// journal cannot aggregate.
func (s *Service) DecisionCounts(ctx context.Context) (map[string]int, error) {
	stats, ok := s.journal.(journalStats)
	if !ok {
		return map[string]int{}, nil
	}
	return stats.CountByAction(ctx)
}

// Subscribed reports whether the agent has an open notification inbox.
func (s *Service) Subscribed(agentID string) bool {
	return s.bus != nil && s.bus.Subscribed(agentID)
}

type Health struct {
	Agents               int                       `json:"agents"`
	ActiveAgents         int                       `json:"active_agents"`
	Tasks                map[domain.TaskStatus]int `json:"tasks"`
	ReadyTasks           int                       `json:"ready_tasks"`
	MessageBacklog       int                       `json:"message_backlog"`
	PriorityDistribution map[domain.Priority]int   `json:"priority_distribution"`
	StateKeys            int                       `json:"state_keys"`
	Resources            int                       `json:"resources"`
	SubscribedAgents     int                       `json:"subscribed_agents"`
	UnhealthyAgents      int                       `json:"unhealthy_agents"`
	ActiveAlerts         int                       `json:"active_alerts"`
}

func (s *Service) Health() Health {
	h := Health{
		Tasks:                make(map[domain.TaskStatus]int),
		PriorityDistribution: s.priority.Distribution(),
		StateKeys:            len(s.states.Keys()),
		Resources:            len(s.allocator.List()),
		MessageBacklog:       len(s.messages.ListByStatus(domain.MessageStatusPending)),
		UnhealthyAgents:      len(s.health.Unhealthy()),
		ActiveAlerts:         len(s.alerts.Active()),
	}
	for _, agent := range s.registry.List() {
		h.Agents++
		if agent.Status == domain.AgentStatusActive {
			h.ActiveAgents++
		}
		if s.Subscribed(agent.ID) {
			h.SubscribedAgents++
		}
	}
	snapshot := s.tasks.Snapshot()
	for _, task := range snapshot {
		h.Tasks[task.Status]++
	}
	h.ReadyTasks = len(tasks.ReadyTasks(snapshot))
	return h
}

func (s *Service) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.watchdogOnce(ctx)
		}
	}
}

// watchdogOnce marks agents inactive once their heartbeat is older than
// HeartbeatTimeout and prunes journal entries past JournalRetention.
func (s *Service) watchdogOnce(ctx context.Context) {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.HeartbeatTimeout)
	for _, candidate := range s.registry.List() {
		// the registry re-checks under its lock, so a heartbeat racing
		// this loop keeps the agent active
		agent, marked, err := s.registry.MarkInactiveIfStale(candidate.ID, cutoff)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Printf("watchdog mark inactive agent=%s: %v", candidate.ID, err)
			}
			continue
		}
		if !marked {
			continue
		}
		s.logDecision(ctx, agent.ID, "agent_inactive", "heartbeat timeout", map[string]any{
			"last_heartbeat": agent.LastHeartbeat,
			"silence_ms":     now.Sub(agent.LastHeartbeat).Milliseconds(),
		})
	}
	s.pruneJournal(ctx, now)
}

func (s *Service) pruneJournal(ctx context.Context, now time.Time) {
	if s.cfg.JournalRetention <= 0 {
		return
	}
	pruner, ok := s.journal.(journalPruner)
	if !ok {
		return
	}
	removed, err := pruner.PruneBefore(ctx, now.Add(-s.cfg.JournalRetention))
	if err != nil {
		s.logger.Printf("watchdog prune journal: %v", err)
		return
	}
	if removed > 0 {
		s.logger.Printf("watchdog pruned %d journal entries older than %s", removed, s.cfg.JournalRetention)
	}
}

func (s *Service) dispatchLoop(ctx context.Context) {
	if !s.cfg.AutoAssign {
		return
	}
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.dispatchOnce(ctx); err != nil {
				s.logger.Printf("dispatch loop error: %v", err)
			}
		}
	}
}

// dispatchOnce hands every ready, unassigned regular task to the best agent.
func (s *Service) dispatchOnce(ctx context.Context) error {
	var errs []error
	for _, task := range tasks.ReadyTasks(s.tasks.Snapshot()) {
		if task.IsOnboarding || task.AssignedAgent != "" {
			continue
		}
		if _, _, err := s.AssignTask(ctx, task.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) logDecision(ctx context.Context, subject, action, reason string, payload any) {
	err := s.journal.LogDecision(ctx, domain.DecisionLog{
		Subject:   subject,
		Actor:     coordinatorActor,
		Action:    action,
		Reason:    reason,
		Payload:   mustJSON(payload),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Printf("journal %s subject=%s: %v", action, subject, err)
	}
}

func (s *Service) notify(n domain.Notification) {
	if s.bus == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.bus.Publish(n); err != nil && !errors.Is(err, inproc.ErrAgentNotSubscribed) {
		s.logger.Printf("notify %s agent=%s: %v", n.Kind, n.AgentID, err)
	}
}

type nopJournal struct{}

func (nopJournal) LogDecision(context.Context, domain.DecisionLog) error { return nil }

func (nopJournal) ListDecisions(context.Context, string, int) ([]domain.DecisionLog, error) {
	return []domain.DecisionLog{}, nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
