package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentcoord/internal/config"
	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
	"agentcoord/internal/messaging/inproc"
)

func newTestServer(t *testing.T, steps []domain.OnboardingStep) *httptest.Server {
	t.Helper()
	svc, err := coordinator.New(nil, inproc.New(8), coordinator.Config{Curriculum: steps}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	srv := httptest.NewServer(newAPI(svc, config.Default()).routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	var agent domain.Agent
	code := do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "a1", "capabilities": []string{"go"}}, &agent)
	if code != http.StatusCreated || agent.ID != "a1" {
		t.Fatalf("register: code=%d agent=%+v", code, agent)
	}
	if code := do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "a1"}, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/agents/ghost", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", code)
	}

	var profile domain.AgentProfile
	code = do(t, srv, http.MethodPost, "/agents/a1/profile", map[string]any{"reliability": 0.5, "specializations": []string{"parsing"}}, &profile)
	if code != http.StatusOK || profile.ReliabilityScore != 0.5 {
		t.Fatalf("update profile: code=%d profile=%+v", code, profile)
	}

	var agents []domain.Agent
	if code := do(t, srv, http.MethodGet, "/agents?capability=go", nil, &agents); code != http.StatusOK || len(agents) != 1 {
		t.Fatalf("list by capability: code=%d agents=%+v", code, agents)
	}
	if code := do(t, srv, http.MethodPost, "/agents/a1/heartbeat", nil, nil); code != http.StatusOK {
		t.Fatalf("heartbeat: %d", code)
	}
	if code := do(t, srv, http.MethodDelete, "/agents/a1", nil, nil); code != http.StatusNoContent {
		t.Fatalf("remove: %d", code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "coder", "capabilities": []string{"python"}}, nil)

	var task domain.Task
	code := do(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "t1", "description": "write python code", "priority": "high"}, &task)
	if code != http.StatusCreated || task.Priority != domain.PriorityHigh {
		t.Fatalf("create: code=%d task=%+v", code, task)
	}
	do(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "t2", "description": "ship it", "dependencies": []string{"t1"}}, nil)

	if code := do(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "t3", "description": "loop", "dependencies": []string{"t3"}}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self cycle, got %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "t4", "description": "bad", "priority": "urgent"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown priority, got %d", code)
	}

	var ready []domain.Task
	do(t, srv, http.MethodGet, "/tasks/ready", nil, &ready)
	if len(ready) != 1 || ready[0].ID != "t1" {
		t.Fatalf("unexpected ready tasks: %+v", ready)
	}

	var order []string
	do(t, srv, http.MethodGet, "/tasks/order", nil, &order)
	if fmt.Sprint(order) != "[t1 t2]" {
		t.Fatalf("unexpected order: %v", order)
	}

	var assigned struct {
		Assigned bool        `json:"assigned"`
		Task     domain.Task `json:"task"`
	}
	do(t, srv, http.MethodPost, "/tasks/t1/assign", nil, &assigned)
	if !assigned.Assigned || assigned.Task.AssignedAgent != "coder" {
		t.Fatalf("unexpected assignment: %+v", assigned)
	}

	code = do(t, srv, http.MethodPost, "/tasks/t1/status", map[string]any{"status": "completed"}, &task)
	if code != http.StatusOK || task.Status != domain.TaskStatusCompleted {
		t.Fatalf("status: code=%d task=%+v", code, task)
	}
	if code := do(t, srv, http.MethodPost, "/tasks/t1/status", map[string]any{"status": "done"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", code)
	}

	var next domain.Task
	if code := do(t, srv, http.MethodGet, "/agents/coder/next-task", nil, &next); code != http.StatusOK || next.ID != "t2" {
		t.Fatalf("next task: code=%d task=%+v", code, next)
	}
	if code := do(t, srv, http.MethodGet, "/agents/coder/next-task?priority=critical", nil, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204 with empty bucket, got %d", code)
	}
}

func TestResourceAndStateEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "a"}, nil)
	do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "b"}, nil)

	if code := do(t, srv, http.MethodPost, "/resources", map[string]any{"id": "gpu-1", "type": "gpu", "capacity": 1}, nil); code != http.StatusCreated {
		t.Fatalf("register resource: %d", code)
	}
	var grant struct {
		Granted bool `json:"granted"`
	}
	do(t, srv, http.MethodPost, "/resources/gpu-1/allocate", map[string]any{"agent_id": "a", "amount": 1}, &grant)
	if !grant.Granted {
		t.Fatal("expected first allocation to be granted")
	}
	do(t, srv, http.MethodPost, "/resources/gpu-1/allocate", map[string]any{"agent_id": "b", "amount": 0.5}, &grant)
	if grant.Granted {
		t.Fatal("expected allocation over capacity to be denied")
	}
	if code := do(t, srv, http.MethodPost, "/resources/gpu-1/release", map[string]any{"agent_id": "b", "amount": 1}, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-holder release, got %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/resources/gpu-1/release", map[string]any{"agent_id": "a", "amount": -5}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative release, got %d", code)
	}
	var views []struct {
		Allocated float64 `json:"allocated"`
		Capacity  float64 `json:"capacity"`
	}
	do(t, srv, http.MethodGet, "/resources", nil, &views)
	if len(views) != 1 || views[0].Allocated != 1 || views[0].Allocated > views[0].Capacity {
		t.Fatalf("ledger changed by rejected release: %+v", views)
	}

	do(t, srv, http.MethodPost, "/state", map[string]any{"agent_id": "a", "key": "mode", "value": "fast"}, nil)
	var sv domain.StateVersion
	do(t, srv, http.MethodPost, "/state", map[string]any{"agent_id": "b", "key": "mode", "value": "safe"}, &sv)
	if sv.Version != 2 {
		t.Fatalf("expected version 2, got %d", sv.Version)
	}

	var winner domain.StateVersion
	if code := do(t, srv, http.MethodGet, "/state/mode/resolve", nil, &winner); code != http.StatusOK || winner.AgentID != "b" {
		t.Fatalf("resolve: code=%d winner=%+v", code, winner)
	}
	if code := do(t, srv, http.MethodGet, "/state/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing key, got %d", code)
	}

	var updates map[string]domain.StateVersion
	do(t, srv, http.MethodGet, "/agents/a/state-updates", nil, &updates)
	if updates["mode"].AgentID != "b" {
		t.Fatalf("unexpected pending updates: %+v", updates)
	}
}

func TestMessageEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		do(t, srv, http.MethodPost, "/agents", map[string]any{"id": id}, nil)
	}

	var sent struct {
		Messages []domain.Message `json:"messages"`
	}
	code := do(t, srv, http.MethodPost, "/messages", map[string]any{"from": "a", "to": "b", "content": "hi", "priority": "medium"}, &sent)
	if code != http.StatusCreated || len(sent.Messages) != 1 {
		t.Fatalf("send: code=%d sent=%+v", code, sent)
	}
	if code := do(t, srv, http.MethodPost, "/messages", map[string]any{"from": "a", "to": "ghost"}, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recipient, got %d", code)
	}

	do(t, srv, http.MethodPost, "/messages/broadcast", map[string]any{"from": "a", "content": "all", "priority": "low"}, &sent)
	if len(sent.Messages) != 2 {
		t.Fatalf("expected broadcast to two agents, got %d", len(sent.Messages))
	}

	var msg domain.Message
	if code := do(t, srv, http.MethodPost, "/agents/b/messages/next", nil, &msg); code != http.StatusOK || msg.Priority != domain.PriorityMedium {
		t.Fatalf("next message: code=%d msg=%+v", code, msg)
	}
	if code := do(t, srv, http.MethodPost, "/messages/"+msg.ID+"/ack", nil, nil); code != http.StatusOK {
		t.Fatalf("ack: %d", code)
	}

	var undelivered []domain.Message
	do(t, srv, http.MethodGet, "/agents/b/messages?undelivered=true", nil, &undelivered)
	if len(undelivered) != 1 || undelivered[0].Content != "all" {
		t.Fatalf("unexpected undelivered messages: %+v", undelivered)
	}

	var decisions []domain.DecisionLog
	if code := do(t, srv, http.MethodGet, "/decisions", nil, &decisions); code != http.StatusOK {
		t.Fatalf("decisions: %d", code)
	}
}

func TestOnboardingEndpoints(t *testing.T) {
	srv := newTestServer(t, []domain.OnboardingStep{{ID: "intro", CompletionCriteria: map[string]any{"score": 1}}})
	do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "a"}, nil)

	var next domain.Task
	do(t, srv, http.MethodGet, "/agents/a/next-task", nil, &next)
	if !next.IsOnboarding || next.OnboardingStep != "intro" {
		t.Fatalf("expected onboarding task first, got %+v", next)
	}

	var result struct {
		StepCompleted bool                    `json:"step_completed"`
		Status        domain.OnboardingStatus `json:"status"`
	}
	do(t, srv, http.MethodPost, "/agents/a/onboarding/intro", map[string]any{"score": 2}, &result)
	if !result.StepCompleted || result.Status.Progress != 1 {
		t.Fatalf("unexpected onboarding result: %+v", result)
	}
	if code := do(t, srv, http.MethodPost, "/agents/a/onboarding/unknown", map[string]any{}, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown step, got %d", code)
	}
}

func TestHealthAndAlertEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/agents", map[string]any{"id": "a"}, nil)

	if code := do(t, srv, http.MethodPost, "/alert-rules", map[string]any{"id": "slow", "condition": map[string]float64{"response_time": 500}}, nil); code != http.StatusCreated {
		t.Fatalf("add alert rule: %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/alert-rules", map[string]any{"id": "empty"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty rule, got %d", code)
	}

	var res coordinator.HealthCheckResult
	code := do(t, srv, http.MethodPost, "/health/check", map[string]any{
		"agent_id": "a",
		"metrics":  map[string]float64{"cpu_usage": 97, "response_time": 800},
	}, &res)
	if code != http.StatusOK || res.Check.Status != domain.HealthStatusWarning || len(res.Alerts) != 1 {
		t.Fatalf("health check: code=%d res=%+v", code, res)
	}
	if code := do(t, srv, http.MethodPost, "/health/check", map[string]any{"agent_id": "ghost"}, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", code)
	}

	var profile domain.AgentProfile
	do(t, srv, http.MethodGet, "/agents/a/profile", nil, &profile)
	if profile.PerformanceMetrics["cpu_usage"] != 97 {
		t.Fatalf("expected metrics merged into profile, got %v", profile.PerformanceMetrics)
	}

	var status coordinator.HealthStatus
	if code := do(t, srv, http.MethodGet, "/health/status", nil, &status); code != http.StatusOK {
		t.Fatalf("health status: %d", code)
	}
	if status.Summary[domain.HealthStatusWarning] != 1 || len(status.UnhealthyAgents) != 1 || status.Alerts[domain.AlertSeverityWarning] != 1 {
		t.Fatalf("unexpected health status: %+v", status)
	}

	var view coordinator.AgentHealth
	do(t, srv, http.MethodGet, "/agents/a/health", nil, &view)
	if view.Status != domain.HealthStatusWarning {
		t.Fatalf("unexpected agent health: %+v", view)
	}

	alertID := res.Alerts[0].ID
	if code := do(t, srv, http.MethodPost, "/alerts/"+alertID+"/ack", nil, nil); code != http.StatusOK {
		t.Fatalf("ack alert: %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/alerts/nope/resolve", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown alert, got %d", code)
	}
	var acked []domain.Alert
	do(t, srv, http.MethodGet, "/alerts?status=acknowledged", nil, &acked)
	if len(acked) != 1 || acked[0].ID != alertID {
		t.Fatalf("unexpected acknowledged alerts: %+v", acked)
	}
	if code := do(t, srv, http.MethodDelete, "/alert-rules/slow", nil, nil); code != http.StatusNoContent {
		t.Fatalf("remove alert rule: %d", code)
	}

	var health struct {
		Health         coordinator.Health `json:"health"`
		DecisionCounts map[string]int     `json:"decision_counts"`
	}
	do(t, srv, http.MethodGet, "/healthz", nil, &health)
	if health.Health.UnhealthyAgents != 1 || health.Health.ActiveAlerts != 0 {
		t.Fatalf("unexpected healthz: %+v", health.Health)
	}
	if health.DecisionCounts == nil {
		t.Fatal("expected decision counts in healthz")
	}
}
