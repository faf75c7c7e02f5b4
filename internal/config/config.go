package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
	"agentcoord/internal/monitoring"
	"agentcoord/internal/state"
	"agentcoord/internal/tasks"
)

const envPrefix = "AGENTCOORD_"

type Config struct {
	Server      ServerConfig            `toml:"server"`
	Coordinator CoordinatorConfig       `toml:"coordinator"`
	Priority    map[string]float64      `toml:"priority"`
	Conflict    state.Weights           `toml:"conflict"`
	Assignment  tasks.AssignmentWeights `toml:"assignment"`
	Onboarding  OnboardingConfig        `toml:"onboarding"`
	Monitoring  MonitoringConfig        `toml:"monitoring"`
	Path        string                  `toml:"-"`
}

type ServerConfig struct {
	Addr   string `toml:"addr" env:"ADDR"`
	DBPath string `toml:"db_path" env:"DB_PATH"`
}

type CoordinatorConfig struct {
	DispatchIntervalMS int  `toml:"dispatch_interval_ms" env:"DISPATCH_INTERVAL_MS"`
	WatchdogIntervalMS int  `toml:"watchdog_interval_ms" env:"WATCHDOG_INTERVAL_MS"`
	HeartbeatTimeoutMS int  `toml:"heartbeat_timeout_ms" env:"HEARTBEAT_TIMEOUT_MS"`
	AutoAssign         bool `toml:"auto_assign" env:"AUTO_ASSIGN"`

	// JournalRetentionHours prunes older decisions on the watchdog tick; 0 keeps all.
	JournalRetentionHours int `toml:"journal_retention_hours" env:"JOURNAL_RETENTION_HOURS"`
}

type MonitoringConfig struct {
	OfflineAfterMS  int                           `toml:"offline_after_ms" env:"HEALTH_OFFLINE_AFTER_MS"`
	ErrorThresholds map[string]float64            `toml:"error_thresholds"`
	AlertRules      map[string]map[string]float64 `toml:"alert_rules"`
}

type OnboardingConfig struct {
	Enabled        bool   `toml:"enabled" env:"ONBOARDING_ENABLED"`
	CurriculumPath string `toml:"curriculum_path" env:"CURRICULUM_PATH"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:   ":8091",
			DBPath: "data/agentcoord.db",
		},
		Coordinator: CoordinatorConfig{
			DispatchIntervalMS: 500,
			WatchdogIntervalMS: 3000,
			HeartbeatTimeoutMS: 30000,
			AutoAssign:         true,
		},
		Conflict:   state.DefaultWeights(),
		Assignment: tasks.DefaultAssignmentWeights(),
		Onboarding: OnboardingConfig{Enabled: true},
		Monitoring: MonitoringConfig{
			OfflineAfterMS:  int(monitoring.DefaultOfflineAfter / time.Millisecond),
			ErrorThresholds: monitoring.DefaultErrorThresholds(),
		},
	}
}

// Load reads the TOML file at path over the defaults and then applies
// AGENTCOORD_* environment overrides. An empty path means
// ~/.agentcoord/config.toml, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()
	optional := path == ""
	if optional {
		path = defaultConfigPath()
	}
	resolved, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	raw, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", resolved, err)
		}
		cfg.Path = resolved
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Thresholds converts the [priority] table into coordinator thresholds.
func (c Config) Thresholds() (map[domain.Priority]float64, error) {
	out := make(map[domain.Priority]float64, len(c.Priority))
	for name, value := range c.Priority {
		p, err := domain.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("priority table: %w", err)
		}
		if value < 0 || value > 1 {
			return nil, fmt.Errorf("priority %s threshold %v out of range [0,1]: %w", name, value, domain.ErrInvalidArgument)
		}
		out[p] = value
	}
	return out, nil
}

// ToCoordinator builds the runtime configuration, loading the curriculum
// when onboarding is enabled.
func (c Config) ToCoordinator() (coordinator.Config, error) {
	thresholds, err := c.Thresholds()
	if err != nil {
		return coordinator.Config{}, err
	}
	out := coordinator.Config{
		DispatchInterval:   time.Duration(c.Coordinator.DispatchIntervalMS) * time.Millisecond,
		WatchdogInterval:   time.Duration(c.Coordinator.WatchdogIntervalMS) * time.Millisecond,
		HeartbeatTimeout:   time.Duration(c.Coordinator.HeartbeatTimeoutMS) * time.Millisecond,
		AutoAssign:         c.Coordinator.AutoAssign,
		PriorityThresholds: thresholds,
		ConflictWeights:    c.Conflict,
		AssignmentWeights:  c.Assignment,
		JournalRetention:   time.Duration(c.Coordinator.JournalRetentionHours) * time.Hour,
		HealthOfflineAfter: time.Duration(c.Monitoring.OfflineAfterMS) * time.Millisecond,
		ErrorThresholds:    c.Monitoring.ErrorThresholds,
	}
	if len(c.Monitoring.AlertRules) > 0 {
		out.AlertRules = make(map[string]monitoring.Rule, len(c.Monitoring.AlertRules))
		for id, rule := range c.Monitoring.AlertRules {
			out.AlertRules[id] = monitoring.Rule(rule)
		}
	}
	if c.Onboarding.Enabled {
		steps, err := LoadCurriculum(c.Onboarding.CurriculumPath)
		if err != nil {
			return coordinator.Config{}, err
		}
		out.Curriculum = steps
	}
	return out, nil
}

func (c Config) validate() error {
	if c.Coordinator.DispatchIntervalMS < 0 || c.Coordinator.WatchdogIntervalMS < 0 || c.Coordinator.HeartbeatTimeoutMS < 0 {
		return fmt.Errorf("coordinator intervals must not be negative: %w", domain.ErrInvalidArgument)
	}
	if c.Coordinator.JournalRetentionHours < 0 || c.Monitoring.OfflineAfterMS < 0 {
		return fmt.Errorf("journal retention and offline window must not be negative: %w", domain.ErrInvalidArgument)
	}
	for id, rule := range c.Monitoring.AlertRules {
		if len(rule) == 0 {
			return fmt.Errorf("alert rule %s has no conditions: %w", id, domain.ErrInvalidArgument)
		}
	}
	_, err := c.Thresholds()
	return err
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(path, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		path = filepath.Join(home, trimmed)
	}
	return filepath.Clean(path), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentcoord/config.toml"
	}
	return filepath.Join(home, ".agentcoord", "config.toml")
}
