package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

// Priority is shared by messages and tasks. Higher values are more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// PrioritiesDescending lists priorities in scan order, most urgent first.
var PrioritiesDescending = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority %q: %w", s, ErrInvalidArgument)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("marshal priority %d: %w", int(p), ErrInvalidArgument)
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusProcessed MessageStatus = "processed"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

type Agent struct {
	ID            string      `json:"id"`
	Capabilities  []string    `json:"capabilities"`
	Resources     []string    `json:"resources"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

func (a Agent) Clone() Agent {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	a.Resources = append([]string(nil), a.Resources...)
	return a
}

func (a Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type AgentProfile struct {
	AgentID             string             `json:"agent_id"`
	PerformanceMetrics  map[string]float64 `json:"performance_metrics"`
	ReliabilityScore    float64            `json:"reliability_score"`
	SpecializationAreas []string           `json:"specialization_areas"`
	HistoricalTasks     []string           `json:"historical_tasks"`
}

func (p AgentProfile) Clone() AgentProfile {
	metrics := make(map[string]float64, len(p.PerformanceMetrics))
	for k, v := range p.PerformanceMetrics {
		metrics[k] = v
	}
	p.PerformanceMetrics = metrics
	p.SpecializationAreas = append([]string(nil), p.SpecializationAreas...)
	p.HistoricalTasks = append([]string(nil), p.HistoricalTasks...)
	return p
}

type Resource struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Capacity  float64 `json:"capacity"`
	Allocated float64 `json:"allocated"`
	// AgentID is the most recent successful allocator; empty when nothing is held.
	AgentID string `json:"agent_id,omitempty"`
}

type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Content     any           `json:"content"`
	Priority    Priority      `json:"priority"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

type StateVersion struct {
	Value     any       `json:"value"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
}

type Task struct {
	ID             string     `json:"id"`
	Description    string     `json:"description"`
	Priority       Priority   `json:"priority"`
	Status         TaskStatus `json:"status"`
	Dependencies   []string   `json:"dependencies"`
	AssignedAgent  string     `json:"assigned_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	IsOnboarding   bool       `json:"is_onboarding"`
	OnboardingStep string     `json:"onboarding_step,omitempty"`
}

func (t Task) Clone() Task {
	t.Dependencies = append([]string(nil), t.Dependencies...)
	return t
}

// OnboardingStep is one gate of the curriculum every agent passes before it
// receives regular work. CompletionCriteria values are numbers or booleans.
type OnboardingStep struct {
	ID                   string         `json:"id" yaml:"id"`
	Title                string         `json:"title" yaml:"title"`
	Description          string         `json:"description" yaml:"description"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty" yaml:"required_capabilities"`
	ExpectedOutcome      string         `json:"expected_outcome,omitempty" yaml:"expected_outcome"`
	CompletionCriteria   map[string]any `json:"completion_criteria" yaml:"completion_criteria"`
	Dependencies         []string       `json:"dependencies,omitempty" yaml:"dependencies"`
}

type OnboardingStepStatus struct {
	Completed bool           `json:"completed"`
	Results   map[string]any `json:"results"`
}

type OnboardingStatus struct {
	TotalSteps     int                             `json:"total_steps"`
	CompletedSteps int                             `json:"completed_steps"`
	Progress       float64                         `json:"progress"`
	NextStep       string                          `json:"next_step,omitempty"`
	StepDetails    map[string]OnboardingStepStatus `json:"step_details"`
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	Subject   string          `json:"subject"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type NotificationKind string

const (
	NotificationStateChanged   NotificationKind = "state_changed"
	NotificationMessageArrived NotificationKind = "message_arrived"
	NotificationTaskAssigned   NotificationKind = "task_assigned"
)

// Notification is pushed to an agent's inbox on the in-process bus.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	AgentID   string           `json:"agent_id"`
	Key       string           `json:"key,omitempty"`
	State     *StateVersion    `json:"state,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
	HealthStatusOffline  HealthStatus = "offline"
)

// HealthCheck is the latest self-report an agent submitted.
type HealthCheck struct {
	AgentID       string             `json:"agent_id"`
	Status        HealthStatus       `json:"status"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	Metrics       map[string]float64 `json:"metrics"`
	Errors        []string           `json:"errors"`
}

func (h HealthCheck) Clone() HealthCheck {
	metrics := make(map[string]float64, len(h.Metrics))
	for k, v := range h.Metrics {
		metrics[k] = v
	}
	h.Metrics = metrics
	h.Errors = append([]string(nil), h.Errors...)
	return h
}

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

type Alert struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       AlertSeverity  `json:"severity"`
	Status         AlertStatus    `json:"status"`
	Source         string         `json:"source"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
