package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agentcoord/internal/domain"
)

func main() {
	addr := flag.String("addr", "http://localhost:8091", "coordinator base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	decisionLimit := flag.Int("decisions", 80, "number of decisions to show")
	flag.Parse()

	c := newClient(*addr)
	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Agents (Enter inspect)").SetBorder(true)

	tasksTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	tasksTable.SetTitle("Tasks (Enter filter decisions)").SetBorder(true)

	messagesView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	messagesView.SetTitle("Messages").SetBorder(true)

	decisionsView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	decisionsView.SetTitle("Decisions").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("New task: ")
	promptInput.SetBorder(true).SetTitle("Enter = queue task (prefix high: / critical: / low: to set priority)")

	statusView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Health")
	statusView.SetText(fmt.Sprintf("Connected to %s | F10 quit, F5 refresh, Ctrl+L prompt, Tab switch", c.baseURL))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(agentsTable, 0, 1, false).
		AddItem(tasksTable, 0, 2, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(messagesView, 0, 1, false).
		AddItem(decisionsView, 0, 2, false)
	mainLayout := tview.NewFlex().
		AddItem(left, 0, 3, false).
		AddItem(right, 0, 2, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, false).
		AddItem(statusView, 3, 0, false)

	var (
		mu              sync.Mutex
		selectedAgent   string
		selectedSubject string
		lastAgents      []domain.Agent
		lastTasks       []domain.Task
	)

	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refresh := func() {
		health, healthErr := c.health()
		agents, agentsErr := c.listAgents()
		tasks, tasksErr := c.listTasks()
		sortTasks(tasks)

		mu.Lock()
		if agentsErr == nil {
			lastAgents = agents
			if selectedAgent == "" && len(agents) > 0 {
				selectedAgent = agents[0].ID
			}
		}
		if tasksErr == nil {
			lastTasks = tasks
		}
		agentID, subject := selectedAgent, selectedSubject
		mu.Unlock()

		var (
			messages    []domain.Message
			messagesErr error
		)
		if agentID != "" {
			messages, messagesErr = c.listAgentMessages(agentID)
		}
		decisions, decisionsErr := c.listDecisions(subject, *decisionLimit)

		app.QueueUpdateDraw(func() {
			now := time.Now()
			if agentsErr != nil {
				agentsTable.Clear()
				agentsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", agentsErr)))
			} else {
				renderAgentsTable(agentsTable, agents, tasks, now)
			}
			if tasksErr != nil {
				tasksTable.Clear()
				tasksTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", tasksErr)))
			} else {
				renderTasksTable(tasksTable, tasks)
			}
			messagesView.SetTitle("Messages: " + agentID)
			if messagesErr != nil {
				messagesView.SetText(fmt.Sprintf("load error: %v", messagesErr))
			} else {
				messagesView.SetText(renderMessages(agentID, messages))
			}
			if subject == "" {
				decisionsView.SetTitle("Decisions")
			} else {
				decisionsView.SetTitle("Decisions: " + subject + " (Esc clears)")
			}
			if decisionsErr != nil {
				decisionsView.SetText(fmt.Sprintf("load error: %v", decisionsErr))
			} else {
				decisionsView.SetText(renderDecisions(decisions, health.DecisionCounts))
			}
			if healthErr != nil {
				statusView.SetText(fmt.Sprintf("health error: %v", healthErr))
			} else {
				statusView.SetText(renderHealth(health.Health))
			}
		})
	}

	agentsTable.SetSelectedFunc(func(row, _ int) {
		mu.Lock()
		if row <= 0 || row > len(lastAgents) {
			mu.Unlock()
			return
		}
		selectedAgent = lastAgents[row-1].ID
		mu.Unlock()
		go refresh()
	})

	tasksTable.SetSelectedFunc(func(row, _ int) {
		mu.Lock()
		if row <= 0 || row > len(lastTasks) {
			mu.Unlock()
			return
		}
		selectedSubject = lastTasks[row-1].ID
		mu.Unlock()
		go refresh()
	})

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		description, priority := parsePrompt(promptInput.GetText())
		if description == "" {
			statusView.SetText("Task description is empty")
			return
		}
		promptInput.SetText("")
		statusView.SetText("Queueing task...")
		go func() {
			task, err := c.createTask(description, priority)
			if err != nil {
				setStatusAsync("Create task failed: " + err.Error())
				return
			}
			refresh()
			setStatusAsync(fmt.Sprintf("Task queued: %s (%s)", task.ID, task.Priority))
		}()
	})

	focusOrder := []tview.Primitive{agentsTable, tasksTable, promptInput}
	nextFocus := func() {
		current := app.GetFocus()
		for i, p := range focusOrder {
			if p == current {
				app.SetFocus(focusOrder[(i+1)%len(focusOrder)])
				return
			}
		}
		app.SetFocus(focusOrder[0])
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(promptInput)
			return nil
		case tcell.KeyTAB:
			nextFocus()
			return nil
		case tcell.KeyEscape:
			mu.Lock()
			selectedSubject = ""
			mu.Unlock()
			app.SetFocus(agentsTable)
			go refresh()
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refresh()
		for range ticker.C {
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(agentsTable).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}
