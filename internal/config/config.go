// Package config holds conduit configuration: YAML file, environment
// overrides, and zero-value defaulting. The core treats it as a read-only
// key/value source for feature flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all conduit configuration.
type Config struct {
	// Provider configuration
	Provider ProviderConfig `yaml:"provider"`

	// Kernel/dispatch settings
	Kernel KernelConfig `yaml:"kernel"`

	// Feature flags read by the core at dispatch time
	Features FeatureConfig `yaml:"features"`

	// Storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig configures the LLM provider adapters.
type ProviderConfig struct {
	Name    string `yaml:"name"` // gemini, echo
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// KernelConfig configures the sequencing kernel and worker pool.
type KernelConfig struct {
	// WorkerSlots bounds concurrent provider calls on the pool.
	WorkerSlots int `yaml:"worker_slots"`
	// MailboxSize bounds the kernel event queue.
	MailboxSize int `yaml:"mailbox_size"`
	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// FeatureConfig holds runtime feature flags. Hot-reloadable.
type FeatureConfig struct {
	// Stream enables incremental output for streamable modes.
	Stream bool `yaml:"stream"`
	// MaxTurns bounds agent-loop continuations per request.
	MaxTurns int `yaml:"max_turns"`
	// HistoryLimit bounds prompt history items, 0 = unlimited.
	HistoryLimit int `yaml:"history_limit"`
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:    "echo",
			Model:   "gemini-2.0-flash",
			Timeout: "120s",
		},
		Kernel: KernelConfig{
			WorkerSlots:  4,
			MailboxSize:  256,
			DrainTimeout: 10 * time.Second,
		},
		Features: FeatureConfig{
			Stream:       true,
			MaxTurns:     8,
			HistoryLimit: 40,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
	}
}

// Load reads config from path, layering file values over defaults and
// environment overrides over both. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CONDUIT_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("CONDUIT_PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv("CONDUIT_MODEL"); v != "" {
		c.Provider.Model = v
	}
}

func (c *Config) applyDefaults() {
	if c.Kernel.WorkerSlots <= 0 {
		c.Kernel.WorkerSlots = 4
	}
	if c.Kernel.MailboxSize <= 0 {
		c.Kernel.MailboxSize = 256
	}
	if c.Kernel.DrainTimeout <= 0 {
		c.Kernel.DrainTimeout = 10 * time.Second
	}
	if c.Features.MaxTurns <= 0 {
		c.Features.MaxTurns = 8
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gemini-2.0-flash"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "echo"
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conduit/conversations.db"
	}
	return home + "/.conduit/conversations.db"
}
