// Package extensions holds the catalog of extension configurations the agent
// may enable, independent of which extensions are currently running.
package extensions

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Kind represents the transport an extension is reached through.
type Kind string

const (
	KindStdio          Kind = "stdio"
	KindStreamableHTTP Kind = "streamable_http"
	KindSSE            Kind = "sse"
	KindFrontend       Kind = "frontend"
)

// ErrNotFound indicates no extension is configured under the requested name.
var ErrNotFound = errors.New("extension not found")

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config describes one extension.
type Config struct {
	Name        string `yaml:"name" json:"name"`
	Kind        Kind   `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`

	// Stdio transport options
	Command string            `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"envs,omitempty" json:"envs,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`

	// HTTP transport options
	URL     string            `yaml:"uri,omitempty" json:"uri,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Frontend extensions declare their tools inline; the caller executes them.
	Tools        []FrontendTool `yaml:"tools,omitempty" json:"tools,omitempty"`
	Instructions string         `yaml:"instructions,omitempty" json:"instructions,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// FrontendTool is a tool definition carried by a frontend extension.
type FrontendTool struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	ReadOnly    bool           `yaml:"read_only,omitempty" json:"read_only,omitempty"`
}

// Key returns the normalized name used for tool prefixes and lookups.
func (c *Config) Key() string {
	return NormalizeName(c.Name)
}

// NormalizeName lowercases a name and replaces characters that are not valid
// in tool names.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Validate checks the configuration for missing fields and unsafe values.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("extension name is required")
	}
	if !namePattern.MatchString(c.Key()) {
		return fmt.Errorf("extension name %q contains invalid characters", c.Name)
	}

	switch c.Kind {
	case KindStdio:
		if err := c.validateStdio(); err != nil {
			return fmt.Errorf("stdio config for %s: %w", c.Name, err)
		}
	case KindStreamableHTTP, KindSSE:
		if err := c.validateHTTP(); err != nil {
			return fmt.Errorf("%s config for %s: %w", c.Kind, c.Name, err)
		}
	case KindFrontend:
		if len(c.Tools) == 0 {
			return fmt.Errorf("frontend extension %s declares no tools", c.Name)
		}
	default:
		return fmt.Errorf("extension %s has unknown type %q", c.Name, c.Kind)
	}
	return nil
}

func (c *Config) validateStdio() error {
	if c.Command == "" {
		return fmt.Errorf("cmd is required")
	}
	if err := validatePath(c.Command, "cmd"); err != nil {
		return err
	}
	if c.WorkDir != "" {
		if err := validatePath(c.WorkDir, "workdir"); err != nil {
			return err
		}
	}
	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.URL == "" {
		return fmt.Errorf("uri is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("uri must start with http:// or https://")
	}
	return nil
}

func validatePath(path, fieldName string) error {
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}
	return nil
}

func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, ";|&`$<>")
}
