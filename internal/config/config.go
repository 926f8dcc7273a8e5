// Package config loads the engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/nudge/internal/recurring"
)

// Config is the root configuration for the reminder engine.
type Config struct {
	// Timezone is the single configured zone all calendar evaluation
	// runs in.
	Timezone string `yaml:"timezone"`

	// Database is the sqlite file path.
	Database string `yaml:"database"`

	// Operator is the address that receives completion notices for
	// assigned tasks and the startup notice.
	Operator string `yaml:"operator"`

	Gateway  GatewayConfig  `yaml:"gateway"`
	Events   EventsConfig   `yaml:"events"`
	Reminder ReminderConfig `yaml:"reminder"`

	// Recipients maps recipient-rule selectors to directory entries.
	Recipients map[string]RecipientConfig `yaml:"recipients"`

	// Rules overrides the built-in recurring calendar when set.
	Rules *recurring.Rules `yaml:"rules,omitempty"`
}

// GatewayConfig holds the HTTP gateway settings.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ReminderConfig holds the scheduling cadence settings.
type ReminderConfig struct {
	SweepInterval   Duration `yaml:"sweep_interval"`
	DefaultInterval Duration `yaml:"default_interval"`
	DeliveryTimeout Duration `yaml:"delivery_timeout"`
	DailyRulesAt    string   `yaml:"daily_rules_at"`
}

// RecipientConfig is one entry of the recipient directory.
type RecipientConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// Load reads a YAML config file and applies defaults. A missing file
// yields the pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RecurringRules returns the configured calendar, falling back to the
// built-in one.
func (c *Config) RecurringRules() recurring.Rules {
	if c.Rules != nil {
		return *c.Rules
	}
	return recurring.DefaultRules()
}

// RecipientNames returns the selector -> display name mapping.
func (c *Config) RecipientNames() map[string]string {
	names := make(map[string]string, len(c.Recipients))
	for sel, r := range c.Recipients {
		names[sel] = r.Name
	}
	return names
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(NudgePath(), "tasks.db")
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Reminder.SweepInterval == 0 {
		cfg.Reminder.SweepInterval = Duration(30 * time.Second)
	}
	if cfg.Reminder.DefaultInterval == 0 {
		cfg.Reminder.DefaultInterval = Duration(30 * time.Minute)
	}
	if cfg.Reminder.DeliveryTimeout == 0 {
		cfg.Reminder.DeliveryTimeout = Duration(10 * time.Second)
	}
	if cfg.Reminder.DailyRulesAt == "" {
		cfg.Reminder.DailyRulesAt = recurring.DefaultDailyAt
	}
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
