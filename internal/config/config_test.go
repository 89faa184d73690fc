package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/internal/tools/policy"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "conductor.yaml", contents)
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimLeft(contents, "\n")), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider.Name)
	}
	if cfg.TrustMode() != policy.ModeApprove {
		t.Errorf("trust mode = %q", cfg.TrustMode())
	}
	if cfg.Agent.MaxTurns != 1000 || cfg.Agent.MaxConcurrency != 0 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Permissions.Backend != BackendMemory {
		t.Errorf("backend = %q", cfg.Permissions.Backend)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d", cfg.Version)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: OpenAI
  model: gpt-4o
  context_limit: 64000
agent:
  trust_mode: smart_approve
  max_concurrency: 4
  tool_timeout: 30s
permissions:
  backend: file
  path: /tmp/permissions.yaml
extensions:
  entries:
    - name: developer
      type: stdio
      cmd: developer-mcp
      enabled: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Provider.Name != "openai" || cfg.Provider.ContextLimit != 64000 {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.TrustMode() != policy.ModeSmartApprove {
		t.Errorf("trust mode = %q", cfg.TrustMode())
	}
	if cfg.Agent.ToolTimeout != 30*time.Second || cfg.Agent.MaxConcurrency != 4 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if len(cfg.Extensions.Entries) != 1 || cfg.Extensions.Entries[0].Kind != extensions.KindStdio {
		t.Errorf("extensions = %+v", cfg.Extensions.Entries)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: anthropic
  temperature: 0.2
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "temperature") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Name != "anthropic" || cfg.Logging.Format != "text" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad trust mode",
			mutate:  func(c *Config) { c.Agent.TrustMode = "yolo" },
			wantErr: []string{"agent.trust_mode"},
		},
		{
			name:    "trust mode case insensitive",
			mutate:  func(c *Config) { c.Agent.TrustMode = "AUTO" },
			wantErr: nil,
		},
		{
			name: "negative limits",
			mutate: func(c *Config) {
				c.Agent.MaxConcurrency = -1
				c.Provider.ContextLimit = -5
			},
			wantErr: []string{"agent.max_concurrency", "provider.context_limit"},
		},
		{
			name:    "file backend needs path",
			mutate:  func(c *Config) { c.Permissions.Backend = BackendFile },
			wantErr: []string{"permissions.path"},
		},
		{
			name:    "sqlite backend needs dsn",
			mutate:  func(c *Config) { c.Permissions.Backend = BackendSQLite },
			wantErr: []string{"permissions.dsn"},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Permissions.Backend = "redis" },
			wantErr: []string{"permissions.backend"},
		},
		{
			name: "duplicate extensions",
			mutate: func(c *Config) {
				ext := extensions.Config{Name: "dev", Kind: extensions.KindSSE, URL: "http://localhost:3000/sse"}
				c.Extensions.Entries = []extensions.Config{ext, ext}
			},
			wantErr: []string{"duplicate extension"},
		},
		{
			name: "invalid extension",
			mutate: func(c *Config) {
				c.Extensions.Entries = []extensions.Config{{Name: "dev", Kind: extensions.KindStdio}}
			},
			wantErr: []string{"extensions.entries[0]"},
		},
		{
			name: "tracing needs endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SamplingRate = 2
			},
			wantErr: []string{"tracing.endpoint", "tracing.sampling_rate"},
		},
		{
			name: "logging",
			mutate: func(c *Config) {
				c.Logging.Level = "loud"
				c.Logging.Format = "xml"
			},
			wantErr: []string{"logging.level", "logging.format"},
		},
		{
			name:    "newer version",
			mutate:  func(c *Config) { c.Version = CurrentVersion + 1 },
			wantErr: []string{"newer than this build"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	for _, key := range []string{"trust_mode", "context_limit", "backend"} {
		if !strings.Contains(string(schema), key) {
			t.Errorf("schema missing %q", key)
		}
	}
}
