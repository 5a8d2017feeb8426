// Package main provides the FireHunt service CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/firehunt/internal/backend"
)

// Config represents the service configuration.
type Config struct {
	// InstanceType identifies this deployment (production, qa, ...).
	// Hunts listing instance types only run where they match.
	InstanceType string `yaml:"instance_type"`
	// PersistenceDir is where hunt runtime state survives restarts.
	PersistenceDir string `yaml:"persistence_dir"`
	// SemaphoreAddress is the remote concurrency coordinator, used by
	// categories whose concurrency_limit names a shared semaphore.
	SemaphoreAddress string `yaml:"semaphore_address"`
	// QueueSize bounds the submission forwarding queue.
	QueueSize int `yaml:"queue_size"`

	API        APIConfig                            `yaml:"api"`
	NATS       NATSConfig                           `yaml:"nats"`
	Backends   map[string]*backend.ClickHouseConfig `yaml:"backends"`
	Categories []CategoryConfig                     `yaml:"categories"`

	Verbose bool `yaml:"-"` // set via CLI flag
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NATSConfig contains submission forwarding settings. An empty URL
// disables forwarding; submissions are then queued and dropped.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// CategoryConfig configures one hunt category manager.
type CategoryConfig struct {
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	Backend          string   `yaml:"backend"`
	RuleDirs         []string `yaml:"rule_dirs"`
	ConcurrencyLimit string   `yaml:"concurrency_limit"`
	UpdateInterval   string   `yaml:"update_interval"`
	Tick             string   `yaml:"tick"`
}

// UpdateIntervalDuration parses the update interval; zero means
// default.
func (c *CategoryConfig) UpdateIntervalDuration() (time.Duration, error) {
	if c.UpdateInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.UpdateInterval)
}

// TickDuration parses the scheduling tick; zero means default.
func (c *CategoryConfig) TickDuration() (time.Duration, error) {
	if c.Tick == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Tick)
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.InstanceType == "" {
		c.InstanceType = "production"
	}
	if c.PersistenceDir == "" {
		c.PersistenceDir = "/var/lib/firehunt"
	}
	if c.API.Address == "" {
		c.API.Address = ":8476"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "hunts.submissions"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	seen := map[string]bool{}
	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.Name == "" {
			return fmt.Errorf("categories[%d].name is required", i)
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		seen[cat.Name] = true
		if len(cat.RuleDirs) == 0 {
			return fmt.Errorf("category %s: rule_dirs is required", cat.Name)
		}
		if cat.Backend == "" {
			return fmt.Errorf("category %s: backend is required", cat.Name)
		}
		if _, ok := c.Backends[cat.Backend]; !ok {
			return fmt.Errorf("category %s: unknown backend %q", cat.Name, cat.Backend)
		}
		if _, err := cat.UpdateIntervalDuration(); err != nil {
			return fmt.Errorf("category %s: update_interval: %w", cat.Name, err)
		}
		if _, err := cat.TickDuration(); err != nil {
			return fmt.Errorf("category %s: tick: %w", cat.Name, err)
		}
	}
	for name, be := range c.Backends {
		if be == nil || len(be.Addresses) == 0 {
			return fmt.Errorf("backend %s: addresses is required", name)
		}
	}
	return nil
}
