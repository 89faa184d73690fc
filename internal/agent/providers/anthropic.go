// Package providers contains the vendor adapters that implement agent.Provider.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

const (
	defaultAnthropicModel        = "claude-sonnet-4-20250514"
	defaultAnthropicContextLimit = 200_000
	defaultMaxTokens             = 4096
)

// AnthropicProvider implements agent.Provider for Anthropic's Claude models.
//
// Each Complete call is one Messages API request. Conversation messages are
// converted to content blocks: text, tool_use for tool requests and
// tool_result for tool responses. The system prompt travels in the
// dedicated system field.
//
// Error Handling:
// API failures are returned as *agent.ProviderError. A 400 response whose
// body reports an oversized prompt is classified as
// agent.ProviderErrorContextLength; rate limits and 5xx responses are retried
// here with linear backoff before being returned.
//
// Thread Safety:
// AnthropicProvider is safe for concurrent use.
type AnthropicProvider struct {
	BaseProvider

	client    anthropic.Client
	model     string
	maxTokens int
	config    agent.ModelConfig
}

// AnthropicConfig holds configuration parameters for creating an AnthropicProvider.
//
// All fields except APIKey are optional and are set to defaults when empty.
//
// Example:
//
//	config := AnthropicConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"), // Required
//	    Model:  "claude-opus-4-20250514",       // Optional
//	}
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// Model is the model identifier. Default: "claude-sonnet-4-20250514"
	Model string

	// ContextLimit is the model's context window. Default: 200000
	ContextLimit int

	// Tokenizer names the encoding used to estimate tokens locally.
	Tokenizer string

	// MaxTokens caps the reply when the request does not. Default: 4096
	MaxTokens int

	// MaxRetries sets the attempts for transient failures. Default: 3.
	// Negative disables retries.
	MaxRetries int

	// RetryDelay is the base delay between attempts. Default: 1 second
	RetryDelay time.Duration
}

// NewAnthropicProvider creates an Anthropic provider.
//
// Errors:
//   - "anthropic: API key is required": When config.APIKey is empty
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	if config.ContextLimit <= 0 {
		config.ContextLimit = defaultAnthropicContextLimit
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}

	// Retries are handled by BaseProvider so every attempt is classified.
	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(options...),
		model:        config.Model,
		maxTokens:    config.MaxTokens,
		config: agent.ModelConfig{
			Model:        config.Model,
			ContextLimit: config.ContextLimit,
			Tokenizer:    config.Tokenizer,
		},
	}, nil
}

// ModelConfig describes the configured model.
func (p *AnthropicProvider) ModelConfig() agent.ModelConfig {
	return p.config
}

// Complete sends the conversation to the Messages API and converts the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	messages := convertAnthropicMessages(req.Messages)
	tools, err := convertAnthropicTools(req.Tools)
	if err != nil {
		return nil, agent.NewProviderError(agent.ProviderErrorRequestFailed, err.Error()).
			WithProvider(p.Name(), p.model).WithCause(err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	var msg *anthropic.Message
	err = p.Retry(ctx, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return p.wrapError(callErr)
	})
	if err != nil {
		return nil, err
	}
	return convertAnthropicResponse(msg), nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return wrapError(p.Name(), p.model, 0, "", err)
	}

	message := ""
	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		message = payload.Error.Message
		if payload.Error.Type == "rate_limit_error" {
			return agent.NewProviderError(agent.ProviderErrorRateLimit, message).
				WithProvider(p.Name(), p.model).WithStatus(apiErr.StatusCode).WithCause(err)
		}
	}
	return wrapError(p.Name(), p.model, apiErr.StatusCode, message, err)
}

// convertAnthropicMessages maps conversation messages to Anthropic message
// params. Tool responses become tool_result blocks in a user message.
func convertAnthropicMessages(messages []*models.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, c := range msg.Content {
			switch c.Type {
			case models.ContentTypeText:
				if c.Text != "" {
					content = append(content, anthropic.NewTextBlock(c.Text))
				}
			case models.ContentTypeToolRequest:
				if c.ToolRequest == nil {
					continue
				}
				name, input := "invalid_tool_call", json.RawMessage(`{}`)
				if call := c.ToolRequest.ToolCall; call != nil {
					name = call.Name
					if len(call.Arguments) > 0 && json.Valid(call.Arguments) {
						input = call.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(c.ToolRequest.ID, input, name))
			case models.ContentTypeToolResponse:
				if c.ToolResponse == nil {
					continue
				}
				text, isError := toolResponseText(*c.ToolResponse)
				content = append(content, anthropic.NewToolResultBlock(c.ToolResponse.ID, text, isError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

// convertAnthropicTools maps tool definitions to Anthropic tool params.
func convertAnthropicTools(tools []models.Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		raw := tool.InputSchema
		if len(raw) == 0 {
			raw = json.RawMessage(`{"type":"object"}`)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

// convertAnthropicResponse maps a Messages API reply to an assistant message.
// A tool_use block with unparseable input becomes a malformed tool request.
func convertAnthropicResponse(msg *anthropic.Message) *agent.CompletionResponse {
	out := models.NewAssistantMessage()
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.WithText(block.Text)
			}
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			if !json.Valid(args) {
				out.WithToolRequestError(block.ID, models.NewToolError(models.ToolErrorInvalidParameters,
					"could not parse arguments for %s", block.Name))
				continue
			}
			out.WithToolRequest(block.ID, models.ToolCall{Name: block.Name, Arguments: args})
		}
	}
	return &agent.CompletionResponse{
		Message: out,
		Usage: agent.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

// toolResponseText flattens a tool response for vendors that take a single
// string result.
func toolResponseText(resp models.ToolResponse) (string, bool) {
	if resp.Error != nil {
		return resp.Error.Error(), true
	}
	var parts []string
	for _, c := range resp.Content {
		switch {
		case c.Text != "":
			parts = append(parts, c.Text)
		case c.URI != "":
			parts = append(parts, c.URI)
		case c.Data != "":
			parts = append(parts, fmt.Sprintf("[%s data omitted]", c.MimeType))
		}
	}
	return strings.Join(parts, "\n"), false
}
