package mcp

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/conductor/pkg/models"
)

// convertContent maps MCP result content to tool output. Content kinds
// without a direct mapping are passed through as JSON text.
func convertContent(content []sdkmcp.Content) []models.Content {
	out := make([]models.Content, 0, len(content))
	for _, item := range content {
		switch v := item.(type) {
		case *sdkmcp.TextContent:
			out = append(out, models.TextContent(v.Text))
		case *sdkmcp.ImageContent:
			out = append(out, models.Content{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(v.Data),
				MimeType: v.MIMEType,
			})
		case *sdkmcp.EmbeddedResource:
			if v.Resource != nil {
				out = append(out, convertResourceContents([]*sdkmcp.ResourceContents{v.Resource})...)
			}
		case *sdkmcp.ResourceLink:
			out = append(out, models.Content{Type: "resource", URI: v.URI, MimeType: v.MIMEType, Text: v.Name})
		default:
			if payload, err := json.Marshal(item); err == nil {
				out = append(out, models.TextContent(string(payload)))
			}
		}
	}
	return out
}

func convertResourceContents(contents []*sdkmcp.ResourceContents) []models.Content {
	out := make([]models.Content, 0, len(contents))
	for _, rc := range contents {
		if rc == nil {
			continue
		}
		c := models.Content{Type: "resource", URI: rc.URI, MimeType: rc.MIMEType, Text: rc.Text}
		if rc.Text == "" && len(rc.Blob) > 0 {
			c.Data = base64.StdEncoding.EncodeToString(rc.Blob)
		}
		out = append(out, c)
	}
	return out
}

func joinText(content []models.Content) string {
	var parts []string
	for _, c := range content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

// convertTool prefixes a server tool with its extension key.
func convertTool(prefix string, t *sdkmcp.Tool) models.Tool {
	tool := models.Tool{
		Name:        prefixed(prefix, t.Name),
		Description: t.Description,
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Annotations: &models.ToolAnnotations{},
	}
	if t.InputSchema != nil {
		if schema, err := json.Marshal(t.InputSchema); err == nil {
			tool.InputSchema = schema
		}
	}
	if a := t.Annotations; a != nil {
		tool.Annotations.Title = a.Title
		tool.Annotations.ReadOnlyHint = a.ReadOnlyHint
		tool.Annotations.IdempotentHint = a.IdempotentHint
		if a.DestructiveHint != nil {
			tool.Annotations.DestructiveHint = *a.DestructiveHint
		}
	} else {
		tool.Annotations = nil
	}
	return tool
}
