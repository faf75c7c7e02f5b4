package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

type healthResponse struct {
	Status         string             `json:"status"`
	Time           string             `json:"time"`
	Health         coordinator.Health `json:"health"`
	DecisionCounts map[string]int     `json:"decision_counts"`
}

func newClient(addr string) *client {
	return &client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) health() (healthResponse, error) {
	var out healthResponse
	err := c.getJSON("/healthz", &out)
	return out, err
}

func (c *client) listAgents() ([]domain.Agent, error) {
	var out []domain.Agent
	if err := c.getJSON("/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listTasks() ([]domain.Task, error) {
	var out []domain.Task
	if err := c.getJSON("/tasks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listAgentMessages(agentID string) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.getJSON("/agents/"+url.PathEscape(agentID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listDecisions(subject string, limit int) ([]domain.DecisionLog, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if subject != "" {
		q.Set("subject", subject)
	}
	var out []domain.DecisionLog
	if err := c.getJSON("/decisions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) createTask(description string, priority domain.Priority) (domain.Task, error) {
	var task domain.Task
	err := c.postJSON("/tasks", coordinator.CreateTaskInput{Description: description, Priority: priority}, &task)
	return task, err
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := c.health(); err == nil {
			return nil
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}
