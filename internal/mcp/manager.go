// Package mcp runs extensions over the Model Context Protocol and exposes
// them to the reply loop as a single prefixed tool namespace.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/pkg/models"
)

// ToolSeparator joins an extension key and a tool name.
const ToolSeparator = "__"

// ErrExtensionNotFound indicates no active extension has the requested name.
var ErrExtensionNotFound = errors.New("extension is not active")

func prefixed(prefix, name string) string {
	return prefix + ToolSeparator + name
}

// Manager manages the active extensions. MCP extensions each hold a Client;
// frontend extensions only contribute tool definitions.
type Manager struct {
	logger    *slog.Logger
	transport TransportFactory

	mu       sync.RWMutex
	clients  map[string]*Client
	frontend map[string]extensions.Config
}

var _ agent.ExtensionManager = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTransportFactory replaces DefaultTransport.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.transport = f
		}
	}
}

// NewManager creates a manager with no active extensions.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:    logger.With("component", "mcp"),
		transport: DefaultTransport,
		clients:   make(map[string]*Client),
		frontend:  make(map[string]extensions.Config),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start enables every config, continuing past failures. The returned error
// joins the individual failures.
func (m *Manager) Start(ctx context.Context, configs []extensions.Config) error {
	var errs []error
	for _, cfg := range configs {
		if err := m.AddExtension(ctx, cfg); err != nil {
			m.logger.Error("failed to start extension", "extension", cfg.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close ends every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close extension", "extension", key, "error", err)
			errs = append(errs, err)
		}
		delete(m.clients, key)
	}
	clear(m.frontend)
	return errors.Join(errs...)
}

// AddExtension validates cfg and connects to it. Enabling an extension that
// is already active is a no-op.
func (m *Manager) AddExtension(ctx context.Context, cfg extensions.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	key := cfg.Key()

	m.mu.RLock()
	_, active := m.clients[key]
	_, frontend := m.frontend[key]
	m.mu.RUnlock()
	if active || frontend {
		m.logger.Debug("extension already active", "extension", key)
		return nil
	}

	if cfg.Kind == extensions.KindFrontend {
		m.mu.Lock()
		m.frontend[key] = cfg
		m.mu.Unlock()
		m.logger.Info("registered frontend extension", "extension", key, "tools", len(cfg.Tools))
		return nil
	}

	transport, err := m.transport(ctx, cfg)
	if err != nil {
		return err
	}
	client, err := Connect(ctx, cfg, transport, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[key]; exists {
		// Lost a race with a concurrent enable.
		return client.Close()
	}
	m.clients[key] = client
	return nil
}

// RemoveExtension ends the session of an active extension.
func (m *Manager) RemoveExtension(name string) error {
	key := extensions.NormalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.frontend[key]; ok {
		delete(m.frontend, key)
		return nil
	}
	client, ok := m.clients[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	delete(m.clients, key)
	m.logger.Info("disabled extension", "extension", key)
	return client.Close()
}

// Names returns the keys of the active extensions in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients)+len(m.frontend))
	for key := range m.clients {
		names = append(names, key)
	}
	for key := range m.frontend {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// ExtensionsInfo describes every active extension.
func (m *Manager) ExtensionsInfo() []agent.ExtensionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]agent.ExtensionInfo, 0, len(m.clients)+len(m.frontend))
	for key, client := range m.clients {
		infos = append(infos, agent.ExtensionInfo{
			Name:         key,
			Instructions: client.instructions,
			HasResources: client.hasResources,
		})
	}
	for key, cfg := range m.frontend {
		infos = append(infos, agent.ExtensionInfo{Name: key, Instructions: cfg.Instructions})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// PrefixedTools lists the tools of every active extension as
// "<extension>__<tool>", sorted by name.
func (m *Manager) PrefixedTools(ctx context.Context) ([]models.Tool, error) {
	m.mu.RLock()
	clients := make(map[string]*Client, len(m.clients))
	for key, client := range m.clients {
		clients[key] = client
	}
	frontend := make(map[string]extensions.Config, len(m.frontend))
	for key, cfg := range m.frontend {
		frontend[key] = cfg
	}
	m.mu.RUnlock()

	var tools []models.Tool
	for key, client := range clients {
		if err := client.RefreshTools(ctx); err != nil {
			return nil, fmt.Errorf("list tools from %s: %w", key, err)
		}
		for _, t := range client.Tools() {
			tools = append(tools, convertTool(key, t))
		}
	}
	for key, cfg := range frontend {
		for _, ft := range cfg.Tools {
			tools = append(tools, frontendTool(key, ft))
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

func frontendTool(prefix string, ft extensions.FrontendTool) models.Tool {
	tool := models.Tool{
		Name:        prefixed(prefix, ft.Name),
		Description: ft.Description,
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
	if ft.InputSchema != nil {
		if schema, err := json.Marshal(ft.InputSchema); err == nil {
			tool.InputSchema = schema
		}
	}
	if ft.ReadOnly {
		tool.Annotations = &models.ToolAnnotations{ReadOnlyHint: true}
	}
	return tool
}

// resolve finds the client owning a prefixed tool name. Keys may contain
// the separator, so the longest matching key wins.
func (m *Manager) resolve(name string) (*Client, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best    *Client
		bestKey string
	)
	for key, client := range m.clients {
		if strings.HasPrefix(name, key+ToolSeparator) && len(key) > len(bestKey) {
			best, bestKey = client, key
		}
	}
	if best == nil {
		return nil, "", false
	}
	return best, strings.TrimPrefix(name, bestKey+ToolSeparator), true
}

// Dispatch runs a prefixed tool on the extension that owns it.
func (m *Manager) Dispatch(ctx context.Context, name string, args json.RawMessage) ([]models.Content, *models.ToolError) {
	if m.IsFrontendTool(name) {
		return nil, models.NewToolError(models.ToolErrorExecution, "%s is a frontend tool and must be run by the caller", name)
	}
	client, tool, ok := m.resolve(name)
	if !ok || !client.HasTool(tool) {
		return nil, models.NewToolError(models.ToolErrorNotFound, "%s", name)
	}
	return client.CallTool(ctx, tool, args)
}

// IsFrontendTool reports whether name belongs to a frontend extension.
func (m *Manager) IsFrontendTool(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, cfg := range m.frontend {
		tool, ok := strings.CutPrefix(name, key+ToolSeparator)
		if !ok {
			continue
		}
		for _, ft := range cfg.Tools {
			if ft.Name == tool {
				return true
			}
		}
	}
	return false
}

// resourceClients returns the clients to consult for a resource request,
// sorted by key.
func (m *Manager) resourceClients(extensionName string) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if extensionName != "" {
		key := extensions.NormalizeName(extensionName)
		client, ok := m.clients[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, extensionName)
		}
		if !client.hasResources {
			return nil, fmt.Errorf("extension %s does not provide resources", extensionName)
		}
		return []*Client{client}, nil
	}

	keys := make([]string, 0, len(m.clients))
	for key, client := range m.clients {
		if client.hasResources {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]*Client, len(keys))
	for i, key := range keys {
		out[i] = m.clients[key]
	}
	return out, nil
}

// ReadResource reads uri from extensionName, or from the first extension
// that serves it.
func (m *Manager) ReadResource(ctx context.Context, uri, extensionName string) ([]models.Content, error) {
	clients, err := m.resourceClients(extensionName)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, client := range clients {
		content, err := client.ReadResource(ctx, uri)
		if err == nil {
			return content, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", client.config.Key(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no active extension provides resources")
	}
	return nil, fmt.Errorf("resource %s not found: %w", uri, errors.Join(errs...))
}

// ListResources lists the resources of extensionName, or of every extension
// that provides resources. Each extension contributes one text item.
func (m *Manager) ListResources(ctx context.Context, extensionName string) ([]models.Content, error) {
	clients, err := m.resourceClients(extensionName)
	if err != nil {
		return nil, err
	}
	var out []models.Content
	for _, client := range clients {
		resources, err := client.ListResources(ctx)
		if err != nil {
			return nil, fmt.Errorf("list resources of %s: %w", client.config.Key(), err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s:", client.config.Key())
		if len(resources) == 0 {
			b.WriteString(" no resources")
		}
		for _, r := range resources {
			fmt.Fprintf(&b, "\n- %s", r.URI)
			if r.Name != "" {
				fmt.Fprintf(&b, " (%s)", r.Name)
			}
		}
		out = append(out, models.TextContent(b.String()))
	}
	return out, nil
}
