// Package monitoring tracks agent self-reported health and the alerts raised
// from submitted metrics.
package monitoring

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"agentcoord/internal/domain"
)

// DefaultOfflineAfter is how long a health check stays current.
const DefaultOfflineAfter = 5 * time.Minute

// DefaultErrorThresholds are the metric ceilings above which a check is a
// warning. response_time is in milliseconds.
func DefaultErrorThresholds() map[string]float64 {
	return map[string]float64{
		"cpu_usage":     90,
		"memory_usage":  85,
		"response_time": 1000,
	}
}

// HealthMonitor keeps the latest check per agent. A check with errors is
// critical, one with any metric over its threshold is a warning.
type HealthMonitor struct {
	mu           sync.RWMutex
	checks       map[string]*domain.HealthCheck
	order        []string
	thresholds   map[string]float64
	offlineAfter time.Duration
	now          func() time.Time
}

// NewHealthMonitor starts from DefaultErrorThresholds, overlaid with
// thresholds.
func NewHealthMonitor(offlineAfter time.Duration, thresholds map[string]float64, now func() time.Time) *HealthMonitor {
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfter
	}
	if now == nil {
		now = time.Now
	}
	merged := DefaultErrorThresholds()
	for k, v := range thresholds {
		merged[k] = v
	}
	return &HealthMonitor{
		checks:       make(map[string]*domain.HealthCheck),
		thresholds:   merged,
		offlineAfter: offlineAfter,
		now:          now,
	}
}

// Update replaces the agent's check with one computed from metrics and errs.
func (m *HealthMonitor) Update(agentID string, metrics map[string]float64, errs []string) (domain.HealthCheck, error) {
	for k, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.HealthCheck{}, fmt.Errorf("metric %s=%v: %w", k, v, domain.ErrInvalidArgument)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	check := domain.HealthCheck{
		AgentID:       agentID,
		Status:        m.statusLocked(metrics, errs),
		LastHeartbeat: m.now().UTC(),
		Metrics:       metrics,
		Errors:        errs,
	}.Clone()
	if _, ok := m.checks[agentID]; !ok {
		m.order = append(m.order, agentID)
	}
	m.checks[agentID] = &check
	return check.Clone(), nil
}

func (m *HealthMonitor) statusLocked(metrics map[string]float64, errs []string) domain.HealthStatus {
	if len(errs) > 0 {
		return domain.HealthStatusCritical
	}
	for metric, threshold := range m.thresholds {
		if v, ok := metrics[metric]; ok && v > threshold {
			return domain.HealthStatusWarning
		}
	}
	return domain.HealthStatusHealthy
}

func (m *HealthMonitor) Get(agentID string) (domain.HealthCheck, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	check, ok := m.checks[agentID]
	if !ok {
		return domain.HealthCheck{}, false
	}
	return check.Clone(), true
}

func (m *HealthMonitor) List() []domain.HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.HealthCheck, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.checks[id].Clone())
	}
	return out
}

// Status is the agent's live status: offline when it never reported or its
// last report is older than the offline window.
func (m *HealthMonitor) Status(agentID string) domain.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	check, ok := m.checks[agentID]
	if !ok || m.now().Sub(check.LastHeartbeat) > m.offlineAfter {
		return domain.HealthStatusOffline
	}
	return check.Status
}

// Unhealthy lists agents whose last check was not healthy, in report order.
func (m *HealthMonitor) Unhealthy() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for _, id := range m.order {
		if m.checks[id].Status != domain.HealthStatusHealthy {
			out = append(out, id)
		}
	}
	return out
}

func (m *HealthMonitor) SetErrorThreshold(metric string, threshold float64) error {
	if metric == "" || math.IsNaN(threshold) {
		return fmt.Errorf("threshold %q=%v: %w", metric, threshold, domain.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[metric] = threshold
	return nil
}

func (m *HealthMonitor) ErrorThreshold(metric string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.thresholds[metric]
	return v, ok
}

func (m *HealthMonitor) ErrorThresholds() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.thresholds))
	for k, v := range m.thresholds {
		out[k] = v
	}
	return out
}

// Summary counts stored checks per status. Every status is present.
func (m *HealthMonitor) Summary() map[domain.HealthStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[domain.HealthStatus]int{
		domain.HealthStatusHealthy:  0,
		domain.HealthStatusWarning:  0,
		domain.HealthStatusCritical: 0,
		domain.HealthStatusOffline:  0,
	}
	for _, check := range m.checks {
		out[check.Status]++
	}
	return out
}

// Forget drops the agent's check.
func (m *HealthMonitor) Forget(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[agentID]; !ok {
		return
	}
	delete(m.checks, agentID)
	for i, id := range m.order {
		if id == agentID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
