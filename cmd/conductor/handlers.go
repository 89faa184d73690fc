package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/tools/policy"
	"github.com/haasonsaas/conductor/pkg/models"
)

// =============================================================================
// Permission handlers
// =============================================================================

func withPermissions(cmd *cobra.Command, configPath string, fn func(*policy.Manager) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	manager, closeStore, err := openPermissions(cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer closeStore()
	if cfg.Permissions.Backend == config.BackendMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: permissions.backend is memory; decisions are not persisted")
	}
	return fn(manager)
}

func runPermissionsList(cmd *cobra.Command, configPath string) error {
	return withPermissions(cmd, configPath, func(m *policy.Manager) error {
		decisions, err := m.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(decisions) == 0 {
			fmt.Fprintln(out, "No remembered decisions.")
			return nil
		}
		for _, d := range decisions {
			fmt.Fprintf(out, "%-40s %s\n", d.ToolName, d.Level)
		}
		return nil
	})
}

func runPermissionsSet(cmd *cobra.Command, configPath, tool, level string) error {
	lvl := models.PermissionLevel(strings.ToLower(strings.TrimSpace(level)))
	if !lvl.Valid() {
		return fmt.Errorf("level must be %s or %s", models.PermissionLevelAlwaysAllow, models.PermissionLevelAlwaysDeny)
	}
	return withPermissions(cmd, configPath, func(m *policy.Manager) error {
		if err := m.Set(cmd.Context(), tool, lvl); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", policy.NormalizeTool(tool), lvl)
		return nil
	})
}

func runPermissionsReset(cmd *cobra.Command, configPath, tool string) error {
	return withPermissions(cmd, configPath, func(m *policy.Manager) error {
		if tool == "" {
			if err := m.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All decisions cleared.")
			return nil
		}
		if err := m.Remove(cmd.Context(), tool); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared decision for %s.\n", policy.NormalizeTool(tool))
		return nil
	})
}

// =============================================================================
// Extension handlers
// =============================================================================

func runExtensionsList(cmd *cobra.Command, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	entries := catalog.List()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No extensions configured.")
		return nil
	}
	for _, ext := range entries {
		state := "disabled"
		if ext.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(out, "%-24s %-16s %s", ext.Key(), ext.Kind, state)
		if ext.Description != "" {
			fmt.Fprintf(out, "  %s", ext.Description)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// runExtensionsSetEnabled flips the enabled flag in the catalog file. Inline
// entries live in the main config file and are not rewritten.
func runExtensionsSetEnabled(cmd *cobra.Command, configPath, name string, enabled bool) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Extensions.Catalog) == "" {
		return fmt.Errorf("extensions.catalog is not configured; edit the inline entries in the config file instead")
	}
	catalog, err := loadCatalog(&config.Config{Extensions: config.ExtensionsConfig{Catalog: cfg.Extensions.Catalog}})
	if err != nil {
		return err
	}
	if err := catalog.SetEnabled(name, enabled); err != nil {
		return err
	}
	if err := catalog.Save(); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s.\n", name, state)
	return nil
}

// =============================================================================
// Config handlers
// =============================================================================

const mask = "********"

func redactedConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = mask
	}
	if out.Permissions.DSN != "" {
		out.Permissions.DSN = mask
	}
	out.Extensions.Entries = append(out.Extensions.Entries[:0:0], cfg.Extensions.Entries...)
	for i := range out.Extensions.Entries {
		entry := &out.Extensions.Entries[i]
		if len(entry.Env) > 0 {
			env := make(map[string]string, len(entry.Env))
			for k := range entry.Env {
				env[k] = mask
			}
			entry.Env = env
		}
		if len(entry.Headers) > 0 {
			headers := make(map[string]string, len(entry.Headers))
			for k := range entry.Headers {
				headers[k] = mask
			}
			entry.Headers = headers
		}
	}
	return &out
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(redactedConfig(cfg))
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "# no config file found; showing defaults")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	_, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = "defaults"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}
