package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentcoord/internal/config"
	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
)

type api struct {
	svc *coordinator.Service
	cfg config.Config
}

func newAPI(svc *coordinator.Service, cfg config.Config) *api {
	return &api{svc: svc, cfg: cfg}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /config", a.handleConfig)
	mux.HandleFunc("GET /decisions", a.handleDecisions)

	mux.HandleFunc("POST /agents", a.handleRegisterAgent)
	mux.HandleFunc("GET /agents", a.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", a.handleGetAgent)
	mux.HandleFunc("DELETE /agents/{id}", a.handleRemoveAgent)
	mux.HandleFunc("POST /agents/{id}/heartbeat", a.handleHeartbeat)
	mux.HandleFunc("GET /agents/{id}/profile", a.handleGetProfile)
	mux.HandleFunc("POST /agents/{id}/profile", a.handleUpdateProfile)
	mux.HandleFunc("GET /agents/{id}/onboarding", a.handleOnboardingStatus)
	mux.HandleFunc("POST /agents/{id}/onboarding/{step}", a.handleOnboardingResults)
	mux.HandleFunc("GET /agents/{id}/next-task", a.handleNextTask)
	mux.HandleFunc("GET /agents/{id}/state-updates", a.handlePendingUpdates)
	mux.HandleFunc("GET /agents/{id}/messages", a.handleAgentMessages)
	mux.HandleFunc("POST /agents/{id}/messages/next", a.handleNextMessage)
	mux.HandleFunc("GET /agents/{id}/routes", a.handleListRoutes)
	mux.HandleFunc("POST /agents/{id}/routes", a.handleAddRoute)
	mux.HandleFunc("DELETE /agents/{id}/routes/{target}", a.handleRemoveRoute)

	mux.HandleFunc("POST /resources", a.handleRegisterResource)
	mux.HandleFunc("GET /resources", a.handleListResources)
	mux.HandleFunc("POST /resources/{id}/allocate", a.handleAllocate)
	mux.HandleFunc("POST /resources/{id}/release", a.handleRelease)

	mux.HandleFunc("POST /tasks", a.handleCreateTask)
	mux.HandleFunc("GET /tasks", a.handleListTasks)
	mux.HandleFunc("GET /tasks/ready", a.handleReadyTasks)
	mux.HandleFunc("GET /tasks/order", a.handleTaskOrder)
	mux.HandleFunc("GET /tasks/{id}", a.handleGetTask)
	mux.HandleFunc("DELETE /tasks/{id}", a.handleRemoveTask)
	mux.HandleFunc("POST /tasks/{id}/status", a.handleTaskStatus)
	mux.HandleFunc("POST /tasks/{id}/assign", a.handleAssignTask)
	mux.HandleFunc("POST /tasks/{id}/reassign", a.handleReassignTask)

	mux.HandleFunc("POST /state", a.handleSyncState)
	mux.HandleFunc("GET /state", a.handleStateKeys)
	mux.HandleFunc("GET /state/{key}", a.handleGetState)
	mux.HandleFunc("GET /state/{key}/history", a.handleStateHistory)
	mux.HandleFunc("GET /state/{key}/resolve", a.handleResolveState)
	mux.HandleFunc("GET /state/{key}/conflicts", a.handleStateConflicts)

	mux.HandleFunc("POST /messages", a.handleSendMessage)
	mux.HandleFunc("POST /messages/broadcast", a.handleBroadcast)
	mux.HandleFunc("GET /messages/{id}", a.handleGetMessage)
	mux.HandleFunc("POST /messages/{id}/ack", a.handleAck)
	mux.HandleFunc("POST /messages/clear", a.handleClearMessages)
	mux.HandleFunc("GET /priority/thresholds", a.handleGetThresholds)
	mux.HandleFunc("POST /priority/thresholds", a.handleSetThreshold)

	mux.HandleFunc("POST /health/check", a.handleHealthCheck)
	mux.HandleFunc("GET /health/status", a.handleHealthStatus)
	mux.HandleFunc("POST /health/thresholds", a.handleSetErrorThreshold)
	mux.HandleFunc("GET /agents/{id}/health", a.handleAgentHealth)
	mux.HandleFunc("GET /alerts", a.handleListAlerts)
	mux.HandleFunc("POST /alerts", a.handleCreateAlert)
	mux.HandleFunc("POST /alerts/{id}/ack", a.handleAckAlert)
	mux.HandleFunc("POST /alerts/{id}/resolve", a.handleResolveAlert)
	mux.HandleFunc("GET /alert-rules", a.handleListAlertRules)
	mux.HandleFunc("POST /alert-rules", a.handleAddAlertRule)
	mux.HandleFunc("DELETE /alert-rules/{id}", a.handleRemoveAlertRule)
	return mux
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := a.svc.DecisionCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"health":          a.svc.Health(),
		"decision_counts": counts,
	})
}

func (a *api) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path":       a.cfg.Path,
		"server":     a.cfg.Server,
		"runtime":    a.cfg.Coordinator,
		"conflict":   a.cfg.Conflict,
		"assignment": a.cfg.Assignment,
		"onboarding": a.cfg.Onboarding,
		"monitoring": a.cfg.Monitoring,
		"thresholds": a.svc.PriorityThresholds(),
	})
}

func (a *api) handleDecisions(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Decisions(r.Context(), r.URL.Query().Get("subject"), queryInt(r, "limit", 300))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *api) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string   `json:"id"`
		Capabilities []string `json:"capabilities"`
		Resources    []string `json:"resources"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	agent, err := a.svc.RegisterAgent(r.Context(), req.ID, req.Capabilities, req.Resources)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (a *api) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Agents(r.URL.Query().Get("capability")))
}

func (a *api) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := a.svc.Agent(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":      agent,
		"workload":   a.svc.Workload(agent.ID),
		"resources":  a.svc.AgentResources(agent.ID),
		"state":      a.svc.AgentStates(agent.ID),
		"subscribed": a.svc.Subscribed(agent.ID),
	})
}

func (a *api) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveAgent(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agent, err := a.svc.Heartbeat(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (a *api) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.svc.Profile(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *api) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req coordinator.ProfileUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	profile, err := a.svc.UpdateProfile(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *api) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.svc.OnboardingStatus(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) handleOnboardingResults(w http.ResponseWriter, r *http.Request) {
	var results map[string]any
	if !decodeBody(w, r, &results) {
		return
	}
	status, complete, err := a.svc.SubmitOnboardingResults(r.Context(), r.PathValue("id"), r.PathValue("step"), results)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"step_completed": complete, "status": status})
}

func (a *api) handleNextTask(w http.ResponseWriter, r *http.Request) {
	var priorities []domain.Priority
	if raw := r.URL.Query().Get("priority"); raw != "" {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		priorities = append(priorities, p)
	}
	task, ok, err := a.svc.NextTask(r.PathValue("id"), priorities...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *api) handlePendingUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := a.svc.PendingUpdates(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

func (a *api) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch {
	case queryBool(r, "undelivered"):
		writeJSON(w, http.StatusOK, a.svc.UndeliveredMessages(id))
	case queryBool(r, "high"):
		writeJSON(w, http.StatusOK, a.svc.HighPriorityMessages(id))
	default:
		writeJSON(w, http.StatusOK, a.svc.Messages(id))
	}
}

func (a *api) handleNextMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok, err := a.svc.NextMessage(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *api) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.RoutingRules(r.PathValue("id")))
}

func (a *api) handleAddRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Targets []string `json:"targets"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.svc.AddRoutingRule(r.Context(), r.PathValue("id"), req.Targets...); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.svc.RoutingRules(r.PathValue("id")))
}

func (a *api) handleRemoveRoute(w http.ResponseWriter, r *http.Request) {
	a.svc.RemoveRoutingRule(r.Context(), r.PathValue("id"), r.PathValue("target"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRegisterResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string  `json:"id"`
		Type     string  `json:"type"`
		Capacity float64 `json:"capacity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	res, err := a.svc.RegisterResource(r.Context(), req.ID, req.Type, req.Capacity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *api) handleListResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Resources(r.URL.Query().Get("type"), queryBool(r, "available")))
}

type allocationRequest struct {
	AgentID string  `json:"agent_id"`
	Amount  float64 `json:"amount"`
}

func (a *api) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	granted, err := a.svc.AllocateResource(r.Context(), req.AgentID, r.PathValue("id"), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (a *api) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.svc.ReleaseResource(r.Context(), req.AgentID, r.PathValue("id"), req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "released"})
}

func (a *api) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateTaskInput
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("description is required"))
		return
	}
	task, err := a.svc.CreateTask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (a *api) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, a.svc.Tasks(domain.TaskStatus(q.Get("status")), q.Get("agent")))
}

func (a *api) handleReadyTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.ReadyTasks())
}

func (a *api) handleTaskOrder(w http.ResponseWriter, _ *http.Request) {
	order, err := a.svc.TaskOrder()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *api) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.svc.Task(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	deps, dependents, err := a.svc.TaskDependencies(task.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":         task,
		"dependencies": deps,
		"dependents":   dependents,
	})
}

func (a *api) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveTask(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.TaskStatus `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := a.svc.UpdateTaskStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *api) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID != "" {
		task, err := a.svc.AssignTaskTo(r.Context(), r.PathValue("id"), req.AgentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assigned": true, "task": task})
		return
	}
	task, assigned, err := a.svc.AssignTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned": assigned, "task": task})
}

func (a *api) handleReassignTask(w http.ResponseWriter, r *http.Request) {
	task, moved, err := a.svc.ReassignTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reassigned": moved, "task": task})
}

func (a *api) handleSyncState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		Key     string `json:"key"`
		Value   any    `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sv, err := a.svc.SyncState(r.Context(), req.AgentID, req.Key, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (a *api) handleStateKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.StateKeys())
}

func (a *api) handleGetState(w http.ResponseWriter, r *http.Request) {
	sv, err := a.svc.State(r.PathValue("key"), r.URL.Query().Get("agent"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (a *api) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.StateHistory(r.PathValue("key")))
}

func (a *api) handleResolveState(w http.ResponseWriter, r *http.Request) {
	sv, err := a.svc.ResolveState(r.Context(), r.PathValue("key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (a *api) handleStateConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.StateConflicts(r.PathValue("key")))
}

func (a *api) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req coordinator.SendMessageInput
	if !decodeBody(w, r, &req) {
		return
	}
	sent, err := a.svc.SendMessage(r.Context(), req)
	if err != nil && len(sent) == 0 {
		writeDomainError(w, err)
		return
	}
	body := map[string]any{"messages": sent}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, body)
}

func (a *api) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From     string          `json:"from"`
		Content  any             `json:"content"`
		Priority domain.Priority `json:"priority"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sent, err := a.svc.Broadcast(r.Context(), req.From, req.Content, req.Priority)
	if err != nil && len(sent) == 0 {
		writeDomainError(w, err)
		return
	}
	body := map[string]any{"messages": sent}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, body)
}

func (a *api) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := a.svc.Message(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *api) handleAck(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Acknowledge(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "processed"})
}

func (a *api) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"removed": a.svc.ClearProcessedMessages(r.Context())})
}

func (a *api) handleGetThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.PriorityThresholds())
}

func (a *api) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority  domain.Priority `json:"priority"`
		Threshold float64         `json:"threshold"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.svc.SetPriorityThreshold(r.Context(), req.Priority, req.Threshold); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.svc.PriorityThresholds())
}

func (a *api) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		coordinator.HealthCheckInput
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.svc.SubmitHealthCheck(r.Context(), req.AgentID, req.HealthCheckInput)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleHealthStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.HealthStatus())
}

func (a *api) handleSetErrorThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metric    string  `json:"metric"`
		Threshold float64 `json:"threshold"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.svc.SetErrorThreshold(r.Context(), req.Metric, req.Threshold); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.svc.HealthStatus().ErrorThresholds)
}

func (a *api) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.AgentHealth(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Alerts(domain.AlertStatus(r.URL.Query().Get("status"))))
}

func (a *api) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateAlertInput
	if !decodeBody(w, r, &req) {
		return
	}
	alert, err := a.svc.CreateAlert(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (a *api) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.svc.AcknowledgeAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *api) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.svc.ResolveAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *api) handleListAlertRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.AlertRules())
}

func (a *api) handleAddAlertRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string             `json:"id"`
		Condition map[string]float64 `json:"condition"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.svc.AddAlertRule(r.Context(), req.ID, req.Condition); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.svc.AlertRules())
}

func (a *api) handleRemoveAlertRule(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveAlertRule(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrCycleDetected):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOwnershipMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}
