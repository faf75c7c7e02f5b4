package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
)

func renderAgentsTable(table *tview.Table, agents []domain.Agent, tasks []domain.Task, now time.Time) {
	table.Clear()
	headers := []string{"AGENT", "STATUS", "LOAD", "SEEN", "CAPABILITIES"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	load := workloads(tasks)
	for i, a := range agents {
		row := i + 1
		status := tview.NewTableCell(string(a.Status))
		if a.Status != domain.AgentStatusActive {
			status.SetTextColor(tcell.ColorRed)
		}
		table.SetCell(row, 0, tview.NewTableCell(a.ID))
		table.SetCell(row, 1, status)
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprint(load[a.ID])))
		table.SetCell(row, 3, tview.NewTableCell(since(now, a.LastHeartbeat)))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(strings.Join(a.Capabilities, ","), 40)))
	}
}

func renderTasksTable(table *tview.Table, tasks []domain.Task) {
	table.Clear()
	headers := []string{"ID", "STATUS", "PRIO", "AGENT", "UPDATED", "DESCRIPTION"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, t := range tasks {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(t.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(t.Status)).SetTextColor(statusColor(t.Status)))
		table.SetCell(row, 2, tview.NewTableCell(t.Priority.String()))
		table.SetCell(row, 3, tview.NewTableCell(t.AssignedAgent))
		table.SetCell(row, 4, tview.NewTableCell(t.UpdatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 5, tview.NewTableCell(trimLine(t.Description, 64)))
	}
}

func statusColor(s domain.TaskStatus) tcell.Color {
	switch s {
	case domain.TaskStatusCompleted:
		return tcell.ColorGreen
	case domain.TaskStatusFailed:
		return tcell.ColorRed
	case domain.TaskStatusInProgress:
		return tcell.ColorYellow
	default:
		return tview.Styles.PrimaryTextColor
	}
}

func renderMessages(agentID string, items []domain.Message) string {
	if agentID == "" {
		return "No agent selected"
	}
	if len(items) == 0 {
		return "No messages for " + agentID
	}
	var b strings.Builder
	for _, m := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] %-8s %s -> %s (%s)\n  %s\n",
			m.CreatedAt.Local().Format("15:04:05"),
			m.Priority,
			m.SenderID,
			m.RecipientID,
			m.Status,
			trimLine(contentSummary(m.Content), 120),
		))
	}
	return b.String()
}

func renderDecisions(items []domain.DecisionLog, counts map[string]int) string {
	if len(items) == 0 {
		return "No decisions"
	}
	var b strings.Builder
	if line := renderDecisionCounts(counts); line != "" {
		b.WriteString(line + "\n")
	}
	for _, d := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] %s %s %s\n  reason: %s\n",
			d.CreatedAt.Local().Format("15:04:05"),
			d.Actor,
			d.Action,
			d.Subject,
			trimLine(d.Reason, 100),
		))
		if detail := decisionPayloadSummary(d.Payload); detail != "" {
			b.WriteString("  payload: " + trimLine(detail, 160) + "\n")
		}
	}
	return b.String()
}

// renderDecisionCounts lists the busiest journal actions first.
func renderDecisionCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool {
		if counts[actions[i]] != counts[actions[j]] {
			return counts[actions[i]] > counts[actions[j]]
		}
		return actions[i] < actions[j]
	})
	if len(actions) > 6 {
		actions = actions[:6]
	}
	parts := make([]string, 0, len(actions))
	for _, action := range actions {
		parts = append(parts, fmt.Sprintf("%s=%d", action, counts[action]))
	}
	return "totals: " + strings.Join(parts, " ")
}

func renderHealth(h coordinator.Health) string {
	return fmt.Sprintf(
		"agents %d/%d active (%d subscribed, %d unhealthy) | alerts %d | tasks pending=%d assigned=%d running=%d done=%d failed=%d ready=%d | backlog %d | state keys %d | resources %d",
		h.ActiveAgents,
		h.Agents,
		h.SubscribedAgents,
		h.UnhealthyAgents,
		h.ActiveAlerts,
		h.Tasks[domain.TaskStatusPending],
		h.Tasks[domain.TaskStatusAssigned],
		h.Tasks[domain.TaskStatusInProgress],
		h.Tasks[domain.TaskStatusCompleted],
		h.Tasks[domain.TaskStatusFailed],
		h.ReadyTasks,
		h.MessageBacklog,
		h.StateKeys,
		h.Resources,
	)
}

// parsePrompt reads "high: do the thing" style input. Text without a known
// priority prefix is queued at medium.
func parsePrompt(input string) (string, domain.Priority) {
	input = strings.TrimSpace(input)
	if head, rest, ok := strings.Cut(input, ":"); ok {
		if p, err := domain.ParsePriority(strings.TrimSpace(head)); err == nil {
			return strings.TrimSpace(rest), p
		}
	}
	return input, domain.PriorityMedium
}

func workloads(tasks []domain.Task) map[string]int {
	out := make(map[string]int)
	for _, t := range tasks {
		if t.AssignedAgent == "" {
			continue
		}
		if t.Status == domain.TaskStatusAssigned || t.Status == domain.TaskStatusInProgress {
			out[t.AssignedAgent]++
		}
	}
	return out
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
}

func since(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

func contentSummary(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(raw)
	}
}

func decisionPayloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func trimLine(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func shortID(v string) string {
	if len(v) <= 12 {
		return v
	}
	return v[:12]
}
