package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/pkg/models"
)

const (
	clientName    = "conductor"
	clientVersion = "1.0.0"
)

// Client is a session with a single MCP extension.
type Client struct {
	config  extensions.Config
	session *sdkmcp.ClientSession
	logger  *slog.Logger

	instructions string
	hasResources bool
	serverName   string

	mu    sync.RWMutex
	tools []*sdkmcp.Tool
}

// Connect opens a session over transport and fetches the tool list.
func Connect(ctx context.Context, cfg extensions.Config, transport sdkmcp.Transport, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	session, err := sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to extension %s: %w", cfg.Name, err)
	}

	c := &Client{
		config:  cfg,
		session: session,
		logger:  logger.With("extension", cfg.Key()),
	}
	if init := session.InitializeResult(); init != nil {
		c.instructions = init.Instructions
		if init.Capabilities != nil && init.Capabilities.Resources != nil {
			c.hasResources = true
		}
		if init.ServerInfo != nil {
			c.serverName = init.ServerInfo.Name
		}
	}
	if cfg.Instructions != "" {
		c.instructions = cfg.Instructions
	}

	if err := c.RefreshTools(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("list tools from %s: %w", cfg.Name, err)
	}

	c.logger.Info("connected to extension",
		"server", c.serverName,
		"tools", len(c.Tools()),
		"resources", c.hasResources)
	return c, nil
}

// Config returns the extension configuration.
func (c *Client) Config() extensions.Config {
	return c.config
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// RefreshTools re-reads the tool list from the server.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tool list.
func (c *Client) Tools() []*sdkmcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// HasTool reports whether the server advertised name.
func (c *Client) HasTool(name string) bool {
	for _, t := range c.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// CallTool invokes an unprefixed tool. Server-reported failures become
// execution errors.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) ([]models.Content, *models.ToolError) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, models.NewToolError(models.ToolErrorInvalidParameters, "arguments for %s are not a JSON object: %v", name, err)
		}
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, models.NewToolError(models.ToolErrorExecution, "call %s on %s: %v", name, c.config.Name, err)
	}

	content := convertContent(result.Content)
	if result.IsError {
		return nil, models.NewToolError(models.ToolErrorExecution, "%s", joinText(content))
	}
	return content, nil
}

// ReadResource reads uri from the server.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]models.Content, error) {
	result, err := c.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	return convertResourceContents(result.Contents), nil
}

// ListResources lists the resources the server exposes.
func (c *Client) ListResources(ctx context.Context) ([]*sdkmcp.Resource, error) {
	result, err := c.session.ListResources(ctx, &sdkmcp.ListResourcesParams{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}
