package monitoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"agentcoord/internal/domain"
)

// RuleSource is the Source of alerts raised by Evaluate.
const RuleSource = "alert_rule"

// Rule fires when any metric it names exceeds the given threshold.
type Rule map[string]float64

func (r Rule) String() string {
	parts := make([]string, 0, len(r))
	for _, metric := range sortedKeys(r) {
		parts = append(parts, fmt.Sprintf("%s>%v", metric, r[metric]))
	}
	return strings.Join(parts, " or ")
}

func (r Rule) matches(metrics map[string]float64) bool {
	for metric, threshold := range r {
		if v, ok := metrics[metric]; ok && v > threshold {
			return true
		}
	}
	return false
}

// AlertManager stores alerts in creation order. Alerts are never deleted;
// they move active -> acknowledged -> resolved.
type AlertManager struct {
	mu     sync.RWMutex
	alerts map[string]*domain.Alert
	order  []string
	rules  map[string]Rule
	now    func() time.Time
}

func NewAlertManager(now func() time.Time) *AlertManager {
	if now == nil {
		now = time.Now
	}
	return &AlertManager{
		alerts: make(map[string]*domain.Alert),
		rules:  make(map[string]Rule),
		now:    now,
	}
}

func (m *AlertManager) Create(title, description string, severity domain.AlertSeverity, source string, metadata map[string]any) domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(title, description, severity, source, metadata)
}

func (m *AlertManager) createLocked(title, description string, severity domain.AlertSeverity, source string, metadata map[string]any) domain.Alert {
	if metadata == nil {
		metadata = map[string]any{}
	}
	alert := &domain.Alert{
		ID:          fmt.Sprintf("alert_%d", len(m.order)),
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      domain.AlertStatusActive,
		Source:      source,
		CreatedAt:   m.now().UTC(),
		Metadata:    metadata,
	}
	m.alerts[alert.ID] = alert
	m.order = append(m.order, alert.ID)
	return cloneAlert(alert)
}

func (m *AlertManager) Get(alertID string) (domain.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return domain.Alert{}, false
	}
	return cloneAlert(alert), true
}

// List returns alerts in creation order. An empty status matches all.
func (m *AlertManager) List(status domain.AlertStatus) []domain.Alert {
	return m.filter(func(a *domain.Alert) bool { return status == "" || a.Status == status })
}

func (m *AlertManager) BySeverity(severity domain.AlertSeverity) []domain.Alert {
	return m.filter(func(a *domain.Alert) bool { return a.Severity == severity })
}

func (m *AlertManager) Active() []domain.Alert {
	return m.List(domain.AlertStatusActive)
}

func (m *AlertManager) filter(keep func(*domain.Alert) bool) []domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, id := range m.order {
		if alert := m.alerts[id]; keep(alert) {
			out = append(out, cloneAlert(alert))
		}
	}
	return out
}

func (m *AlertManager) Acknowledge(alertID string) (domain.Alert, error) {
	return m.transition(alertID, domain.AlertStatusAcknowledged)
}

func (m *AlertManager) Resolve(alertID string) (domain.Alert, error) {
	return m.transition(alertID, domain.AlertStatusResolved)
}

func (m *AlertManager) transition(alertID string, status domain.AlertStatus) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return domain.Alert{}, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	now := m.now().UTC()
	alert.Status = status
	switch status {
	case domain.AlertStatusAcknowledged:
		alert.AcknowledgedAt = &now
	case domain.AlertStatusResolved:
		alert.ResolvedAt = &now
	}
	return cloneAlert(alert), nil
}

// AddRule installs or replaces a rule.
func (m *AlertManager) AddRule(ruleID string, rule Rule) error {
	if ruleID == "" || len(rule) == 0 {
		return fmt.Errorf("alert rule %q: %w", ruleID, domain.ErrInvalidArgument)
	}
	copied := make(Rule, len(rule))
	for metric, threshold := range rule {
		if metric == "" || math.IsNaN(threshold) {
			return fmt.Errorf("alert rule %s metric %q=%v: %w", ruleID, metric, threshold, domain.ErrInvalidArgument)
		}
		copied[metric] = threshold
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleID] = copied
	return nil
}

// RemoveRule is a no-op for unknown ids and reports whether a rule was dropped.
func (m *AlertManager) RemoveRule(ruleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rules[ruleID]
	delete(m.rules, ruleID)
	return ok
}

func (m *AlertManager) Rules() map[string]Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Rule, len(m.rules))
	for id, rule := range m.rules {
		copied := make(Rule, len(rule))
		for k, v := range rule {
			copied[k] = v
		}
		out[id] = copied
	}
	return out
}

// Evaluate raises one warning alert per rule that metrics trigger, in rule
// id order.
func (m *AlertManager) Evaluate(agentID string, metrics map[string]float64) []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rules))
	for id := range m.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raised := make([]domain.Alert, 0)
	for _, id := range ids {
		rule := m.rules[id]
		if !rule.matches(metrics) {
			continue
		}
		condition := make(map[string]any, len(rule))
		for k, v := range rule {
			condition[k] = v
		}
		raised = append(raised, m.createLocked(
			fmt.Sprintf("Rule %s triggered", id),
			fmt.Sprintf("Condition %s was met by agent %s", rule, agentID),
			domain.AlertSeverityWarning,
			RuleSource,
			map[string]any{"rule_id": id, "condition": condition, "agent_id": agentID},
		))
	}
	return raised
}

// Summary counts active alerts per severity. Every severity is present.
func (m *AlertManager) Summary() map[domain.AlertSeverity]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[domain.AlertSeverity]int{
		domain.AlertSeverityInfo:     0,
		domain.AlertSeverityWarning:  0,
		domain.AlertSeverityError:    0,
		domain.AlertSeverityCritical: 0,
	}
	for _, alert := range m.alerts {
		if alert.Status == domain.AlertStatusActive {
			out[alert.Severity]++
		}
	}
	return out
}

func cloneAlert(a *domain.Alert) domain.Alert {
	out := *a
	out.Metadata = make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		out.Metadata[k] = v
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
