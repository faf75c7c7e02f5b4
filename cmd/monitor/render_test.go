package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
)

func TestParsePrompt(t *testing.T) {
	cases := []struct {
		in       string
		desc     string
		priority domain.Priority
	}{
		{in: "high: fix the build", desc: "fix the build", priority: domain.PriorityHigh},
		{in: "  Critical:page oncall ", desc: "page oncall", priority: domain.PriorityCritical},
		{in: "note: keep this prefix", desc: "note: keep this prefix", priority: domain.PriorityMedium},
		{in: "plain text", desc: "plain text", priority: domain.PriorityMedium},
	}
	for _, tc := range cases {
		desc, p := parsePrompt(tc.in)
		if desc != tc.desc || p != tc.priority {
			t.Fatalf("parsePrompt(%q) = %q, %s; want %q, %s", tc.in, desc, p, tc.desc, tc.priority)
		}
	}
}

func TestWorkloadsCountsActiveAssignments(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", AssignedAgent: "w1", Status: domain.TaskStatusAssigned},
		{ID: "b", AssignedAgent: "w1", Status: domain.TaskStatusInProgress},
		{ID: "c", AssignedAgent: "w1", Status: domain.TaskStatusCompleted},
		{ID: "d", Status: domain.TaskStatusPending},
	}
	load := workloads(tasks)
	if load["w1"] != 2 || len(load) != 1 {
		t.Fatalf("unexpected workloads: %v", load)
	}
}

func TestDecisionPayloadSummarySortsKeys(t *testing.T) {
	got := decisionPayloadSummary([]byte(`{"to":"b","from":"a"}`))
	if got != "from=a, to=b" {
		t.Fatalf("unexpected summary: %q", got)
	}
	if decisionPayloadSummary([]byte("null")) != "" {
		t.Fatal("expected empty summary for null payload")
	}
}

func TestRenderDecisionCountsBusiestFirst(t *testing.T) {
	got := renderDecisionCounts(map[string]int{"task_created": 2, "agent_registered": 5, "alert_raised": 2})
	if got != "totals: agent_registered=5 alert_raised=2 task_created=2" {
		t.Fatalf("unexpected totals: %q", got)
	}
	if renderDecisionCounts(nil) != "" {
		t.Fatal("expected no totals line without counts")
	}
	out := renderDecisions([]domain.DecisionLog{{Actor: "coordinator", Action: "x", Subject: "s"}}, map[string]int{"x": 1})
	if !strings.HasPrefix(out, "totals: x=1\n") {
		t.Fatalf("expected totals header, got %q", out)
	}
}

func TestTrimLineKeepsRunesWhole(t *testing.T) {
	if got := trimLine("日本語のテキスト", 6); got != "日本語..." {
		t.Fatalf("unexpected trim: %q", got)
	}
}

func TestRenderHealth(t *testing.T) {
	line := renderHealth(coordinator.Health{
		Agents:       3,
		ActiveAgents: 2,
		Tasks:        map[domain.TaskStatus]int{domain.TaskStatusPending: 4},
		ReadyTasks:   1,
		ActiveAlerts: 2,
	})
	if !strings.Contains(line, "agents 2/3 active") || !strings.Contains(line, "pending=4") || !strings.Contains(line, "alerts 2") {
		t.Fatalf("unexpected health line: %s", line)
	}
}

func TestClientCreateTaskSendsPriorityName(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Task{ID: "t1", Description: "x", Priority: domain.PriorityHigh})
	}))
	defer srv.Close()

	task, err := newClient(srv.URL+"/").createTask("x", domain.PriorityHigh)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID != "t1" || got["priority"] != "high" {
		t.Fatalf("unexpected round trip: task=%+v body=%v", task, got)
	}
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newClient(srv.URL).listAgents(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected http error, got %v", err)
	}
}
