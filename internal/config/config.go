// Package config provides YAML-based configuration loading for Bolton.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Conflict policy values for template application.
const (
	ConflictWarn = "warn"
	ConflictFail = "fail"
)

// Config is the top-level Bolton configuration, loaded from bolton.yaml.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Explain  ExplainConfig  `yaml:"explain"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
}

// GitHubConfig holds credentials and connection settings for the git host.
type GitHubConfig struct {
	Token      string `yaml:"token"`
	APIURL     string `yaml:"api_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DatabaseConfig selects the durable store backend. The sqlite driver is
// the default; mysql is used when host is set.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
}

// WorkerConfig controls the job scheduler loop.
type WorkerConfig struct {
	IntervalSec int    `yaml:"interval_sec"`
	Cron        string `yaml:"cron"`
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffSec  int    `yaml:"backoff_sec"`
}

// SandboxConfig controls sandbox session behavior.
type SandboxConfig struct {
	DemoTTLMin     int    `yaml:"demo_ttl_min"`
	ConflictPolicy string `yaml:"conflict_policy"`
}

// ExplainConfig points at the external AI explanation command.
type ExplainConfig struct {
	Command    string `yaml:"command"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// NotifyConfig holds optional chat notification settings.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials and the target channel.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord bot credentials and the target channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("BOLTON_GITHUB_TOKEN")
	}
	if c.GitHub.TimeoutSec == 0 {
		c.GitHub.TimeoutSec = 30
	}
	if c.Database.Driver == "" {
		if c.Database.Host != "" {
			c.Database.Driver = "mysql"
		} else {
			c.Database.Driver = "sqlite"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "bolton.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "bolton"
		}
	}
	if c.Worker.IntervalSec == 0 {
		c.Worker.IntervalSec = 10
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.BackoffSec == 0 {
		c.Worker.BackoffSec = 2
	}
	if c.Sandbox.DemoTTLMin == 0 {
		c.Sandbox.DemoTTLMin = 30
	}
	if c.Sandbox.ConflictPolicy == "" {
		c.Sandbox.ConflictPolicy = ConflictWarn
	}
	if c.Explain.TimeoutSec == 0 {
		c.Explain.TimeoutSec = 60
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Worker.IntervalSec < 0 {
		errs = append(errs, "worker.interval_sec must not be negative")
	}
	if c.Sandbox.ConflictPolicy != ConflictWarn && c.Sandbox.ConflictPolicy != ConflictFail {
		errs = append(errs, fmt.Sprintf("sandbox.conflict_policy %q must be warn or fail", c.Sandbox.ConflictPolicy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
