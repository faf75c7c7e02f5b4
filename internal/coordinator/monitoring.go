package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"agentcoord/internal/domain"
	"agentcoord/internal/monitoring"
)

type HealthCheckInput struct {
	Metrics map[string]float64 `json:"metrics"`
	Errors  []string           `json:"errors,omitempty"`
}

type HealthCheckResult struct {
	Check  domain.HealthCheck `json:"health_check"`
	Alerts []domain.Alert     `json:"alerts"`
}

// SubmitHealthCheck records an agent's self-report. It counts as a
// heartbeat, merges the metrics into the agent's profile and raises an alert
// for every rule the metrics trigger.
func (s *Service) SubmitHealthCheck(ctx context.Context, agentID string, in HealthCheckInput) (out HealthCheckResult, err error) {
	ctx, span := s.startSpan(ctx, "coordinator.SubmitHealthCheck", attribute.String("agent.id", agentID))
	defer func() {
		span.SetAttributes(
			attribute.String("health.status", string(out.Check.Status)),
			attribute.Int("health.alerts", len(out.Alerts)),
		)
		endSpan(span, err)
	}()

	if _, ok := s.registry.Get(agentID); !ok {
		return HealthCheckResult{}, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	check, err := s.health.Update(agentID, in.Metrics, in.Errors)
	if err != nil {
		return HealthCheckResult{}, err
	}
	if len(in.Metrics) > 0 {
		if err := s.profiler.UpdatePerformanceMetrics(agentID, in.Metrics); err != nil {
			return HealthCheckResult{}, err
		}
	}
	if _, err := s.Heartbeat(ctx, agentID); err != nil {
		return HealthCheckResult{}, err
	}
	if check.Status != domain.HealthStatusHealthy {
		s.logDecision(ctx, agentID, "health_degraded", string(check.Status), map[string]any{
			"metrics": check.Metrics,
			"errors":  check.Errors,
		})
	}
	alerts := s.alerts.Evaluate(agentID, in.Metrics)
	for _, alert := range alerts {
		s.logDecision(ctx, alert.ID, "alert_raised", alert.Title, alert)
	}
	return HealthCheckResult{Check: check, Alerts: alerts}, nil
}

type AgentHealth struct {
	AgentID string              `json:"agent_id"`
	Status  domain.HealthStatus `json:"status"`
	Check   *domain.HealthCheck `json:"health_check,omitempty"`
}

// AgentHealth reports the live status, offline when the agent has not
// reported within the offline window.
func (s *Service) AgentHealth(agentID string) (AgentHealth, error) {
	if _, ok := s.registry.Get(agentID); !ok {
		return AgentHealth{}, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	out := AgentHealth{AgentID: agentID, Status: s.health.Status(agentID)}
	if check, ok := s.health.Get(agentID); ok {
		out.Check = &check
	}
	return out, nil
}

type HealthStatus struct {
	Summary         map[domain.HealthStatus]int  `json:"summary"`
	UnhealthyAgents []string                     `json:"unhealthy_agents"`
	Checks          []domain.HealthCheck         `json:"health_checks"`
	Alerts          map[domain.AlertSeverity]int `json:"alerts"`
	ErrorThresholds map[string]float64           `json:"error_thresholds"`
}

func (s *Service) HealthStatus() HealthStatus {
	return HealthStatus{
		Summary:         s.health.Summary(),
		UnhealthyAgents: s.health.Unhealthy(),
		Checks:          s.health.List(),
		Alerts:          s.alerts.Summary(),
		ErrorThresholds: s.health.ErrorThresholds(),
	}
}

func (s *Service) SetErrorThreshold(ctx context.Context, metric string, threshold float64) error {
	if err := s.health.SetErrorThreshold(metric, threshold); err != nil {
		return err
	}
	s.logDecision(ctx, metric, "error_threshold_set", "threshold changed", map[string]any{"threshold": threshold})
	return nil
}

type CreateAlertInput struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Severity    domain.AlertSeverity `json:"severity"`
	Source      string               `json:"source"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

func (s *Service) CreateAlert(ctx context.Context, in CreateAlertInput) (domain.Alert, error) {
	switch in.Severity {
	case "":
		in.Severity = domain.AlertSeverityInfo
	case domain.AlertSeverityInfo, domain.AlertSeverityWarning, domain.AlertSeverityError, domain.AlertSeverityCritical:
	default:
		return domain.Alert{}, fmt.Errorf("alert severity %q: %w", in.Severity, domain.ErrInvalidArgument)
	}
	if in.Title == "" {
		return domain.Alert{}, fmt.Errorf("alert title: %w", domain.ErrInvalidArgument)
	}
	alert := s.alerts.Create(in.Title, in.Description, in.Severity, in.Source, in.Metadata)
	s.logDecision(ctx, alert.ID, "alert_raised", alert.Title, alert)
	return alert, nil
}

// Alerts lists alerts in creation order. An empty status lists all.
func (s *Service) Alerts(status domain.AlertStatus) []domain.Alert {
	return s.alerts.List(status)
}

func (s *Service) AcknowledgeAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	alert, err := s.alerts.Acknowledge(alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	s.logDecision(ctx, alertID, "alert_acknowledged", alert.Title, nil)
	return alert, nil
}

func (s *Service) ResolveAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	alert, err := s.alerts.Resolve(alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	s.logDecision(ctx, alertID, "alert_resolved", alert.Title, nil)
	return alert, nil
}

func (s *Service) AddAlertRule(ctx context.Context, ruleID string, rule monitoring.Rule) error {
	if err := s.alerts.AddRule(ruleID, rule); err != nil {
		return err
	}
	s.logDecision(ctx, ruleID, "alert_rule_added", rule.String(), rule)
	return nil
}

func (s *Service) RemoveAlertRule(ctx context.Context, ruleID string) error {
	if !s.alerts.RemoveRule(ruleID) {
		return fmt.Errorf("alert rule %s: %w", ruleID, domain.ErrNotFound)
	}
	s.logDecision(ctx, ruleID, "alert_rule_removed", "rule dropped", nil)
	return nil
}

func (s *Service) AlertRules() map[string]monitoring.Rule {
	return s.alerts.Rules()
}
