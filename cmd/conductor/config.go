package main

// config.go contains configuration loading and the constructors that turn a
// config.Config into the runtime collaborators used by commands.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/agent/providers"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/tools/policy"
)

const defaultConfigName = "conductor.yaml"

// resolveConfigPath picks the explicit flag, then CONDUCTOR_CONFIG, then the
// default file name. The second result reports whether the path was chosen
// explicitly.
func resolveConfigPath(path string) (string, bool) {
	if p := strings.TrimSpace(path); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv("CONDUCTOR_CONFIG")); p != "" {
		return p, true
	}
	return defaultConfigName, false
}

// loadConfig loads the configuration. A missing default file yields the
// default configuration and an empty path.
func loadConfig(path string) (*config.Config, string, error) {
	resolved, explicit := resolveConfigPath(path)
	if _, err := os.Stat(resolved); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return config.DefaultConfig(), "", nil
		}
		return nil, "", fmt.Errorf("config %s: %w", resolved, err)
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func newLogger(cfg *config.Config, out io.Writer) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    out,
		AddSource: cfg.Logging.AddSource,
	})
}

// openPermissions builds the permission manager for the configured backend.
// The returned close function is never nil.
func openPermissions(cfg *config.Config, logger *slog.Logger) (*policy.Manager, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Permissions.Backend {
	case config.BackendMemory, "":
		return policy.NewManager(policy.NewMemoryStore(), logger), noop, nil
	case config.BackendFile:
		return policy.NewManager(policy.NewFileStore(cfg.Permissions.Path), logger), noop, nil
	case config.BackendSQLite, config.BackendPostgres:
		store, err := policy.OpenSQLStore(policy.Dialect(cfg.Permissions.Backend), cfg.Permissions.DSN, nil)
		if err != nil {
			return nil, noop, fmt.Errorf("open permission store: %w", err)
		}
		return policy.NewManager(store, logger), store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown permissions backend %q", cfg.Permissions.Backend)
	}
}

// loadCatalog merges the catalog file, if any, with the inline entries.
// Inline entries replace catalog entries of the same name.
func loadCatalog(cfg *config.Config) (*extensions.Registry, error) {
	var (
		catalog *extensions.Registry
		err     error
	)
	if path := strings.TrimSpace(cfg.Extensions.Catalog); path != "" {
		catalog, err = extensions.LoadRegistry(path)
	} else {
		catalog, err = extensions.NewRegistry()
	}
	if err != nil {
		return nil, err
	}
	for _, entry := range cfg.Extensions.Entries {
		if err := catalog.Set(entry); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// newProvider builds the configured provider. An empty api_key falls back to
// the vendor's conventional environment variable.
func newProvider(cfg *config.Config) (agent.Provider, error) {
	registry := agent.NewProviderRegistry()
	if err := providers.Register(registry); err != nil {
		return nil, err
	}
	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		switch cfg.Provider.Name {
		case "anthropic":
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return registry.New(agent.ProviderSettings{
		Name:         cfg.Provider.Name,
		Model:        cfg.Provider.Model,
		APIKey:       apiKey,
		BaseURL:      cfg.Provider.BaseURL,
		ContextLimit: cfg.Provider.ContextLimit,
		Tokenizer:    cfg.Provider.Tokenizer,
		MaxTokens:    cfg.Provider.MaxTokens,
	})
}

func newTracer(cfg *config.Config) (*observability.Tracer, func(context.Context) error) {
	if !cfg.Tracing.Enabled {
		return nil, func(context.Context) error { return nil }
	}
	return observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
}

// startMetrics registers the loop metrics and, when enabled, serves them.
// The returned stop function is never nil.
func startMetrics(cfg *config.Config, logger *slog.Logger) (*observability.Metrics, func(context.Context) error) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if !cfg.Metrics.Enabled {
		return metrics, func(context.Context) error { return nil }
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", cfg.Metrics.Address, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	return metrics, server.Shutdown
}
