// Package config loads the conductor configuration file.
//
// Files are YAML by default; .json and .json5 files are parsed as JSON5.
// A file may pull in others through a top-level $include entry, and
// ${VAR} references are expanded from the environment before parsing.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/internal/tools/policy"
)

// Config is the main configuration structure for conductor.
type Config struct {
	Version     int               `yaml:"version"`
	Provider    ProviderConfig    `yaml:"provider"`
	Agent       AgentConfig       `yaml:"agent"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Extensions  ExtensionsConfig  `yaml:"extensions"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ProviderConfig selects the model vendor and model.
type ProviderConfig struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	ContextLimit int    `yaml:"context_limit"`
	Tokenizer    string `yaml:"tokenizer"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// AgentConfig controls the reply loop.
type AgentConfig struct {
	TrustMode      string        `yaml:"trust_mode"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxTurns       int           `yaml:"max_turns"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	SystemPrompt   string        `yaml:"system_prompt"`
	Instructions   []string      `yaml:"instructions"`
}

// PermissionsConfig selects where always-allow and always-deny decisions live.
type PermissionsConfig struct {
	// Backend is one of memory, file, sqlite or postgres.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// ExtensionsConfig lists the extensions known to the agent. Entries in the
// catalog file are merged with the inline entries; inline entries win.
type ExtensionsConfig struct {
	Catalog string              `yaml:"catalog"`
	Entries []extensions.Config `yaml:"entries"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Permission store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	cfg.Provider.Name = strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	if cfg.Agent.TrustMode == "" {
		cfg.Agent.TrustMode = string(policy.ModeApprove)
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 1000
	}
	if cfg.Permissions.Backend == "" {
		cfg.Permissions.Backend = BackendMemory
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9464"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "conductor"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// TrustMode returns the configured trust mode. Unknown values map to approve.
func (c *Config) TrustMode() policy.TrustMode {
	return policy.ParseTrustMode(c.Agent.TrustMode)
}

// Validate reports every problem in the configuration as one joined error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}

	if c.Provider.Name == "" {
		add("provider.name is required")
	}
	if c.Provider.ContextLimit < 0 {
		add("provider.context_limit must be >= 0")
	}
	if c.Provider.MaxTokens < 0 {
		add("provider.max_tokens must be >= 0")
	}

	mode := policy.TrustMode(strings.ToLower(strings.TrimSpace(c.Agent.TrustMode)))
	if !mode.Valid() {
		add("agent.trust_mode %q must be one of auto, approve, smart_approve, chat", c.Agent.TrustMode)
	}
	if c.Agent.MaxConcurrency < 0 {
		add("agent.max_concurrency must be >= 0")
	}
	if c.Agent.MaxTurns < 0 {
		add("agent.max_turns must be >= 0")
	}
	if c.Agent.ToolTimeout < 0 {
		add("agent.tool_timeout must be >= 0")
	}

	switch c.Permissions.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.Permissions.Path) == "" {
			add("permissions.path is required for the file backend")
		}
	case BackendSQLite, BackendPostgres:
		if strings.TrimSpace(c.Permissions.DSN) == "" {
			add("permissions.dsn is required for the %s backend", c.Permissions.Backend)
		}
	default:
		add("permissions.backend %q must be one of memory, file, sqlite, postgres", c.Permissions.Backend)
	}

	seen := make(map[string]bool, len(c.Extensions.Entries))
	for i := range c.Extensions.Entries {
		entry := &c.Extensions.Entries[i]
		if err := entry.Validate(); err != nil {
			add("extensions.entries[%d]: %w", i, err)
			continue
		}
		if seen[entry.Key()] {
			add("extensions.entries[%d]: duplicate extension %q", i, entry.Name)
		}
		seen[entry.Key()] = true
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q must be json or text", c.Logging.Format)
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Address) == "" {
		add("metrics.address is required when metrics are enabled")
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path must start with /")
	}

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		add("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	return errors.Join(errs...)
}
