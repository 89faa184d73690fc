package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

const (
	defaultOpenAIModel        = "gpt-4o"
	defaultOpenAIContextLimit = 128_000
)

// OpenAIProvider implements agent.Provider for the OpenAI Chat Completions API
// and compatible endpoints.
//
// Tool requests map to assistant tool_calls; every tool response becomes its
// own "tool" role message directly after the assistant message that asked
// for it. The system prompt is sent as the first message.
//
// Error Handling:
// API failures are returned as *agent.ProviderError. The
// "context_length_exceeded" error code and matching 400 bodies are
// classified as agent.ProviderErrorContextLength.
//
// Thread Safety:
// OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	BaseProvider

	client    *openai.Client
	model     string
	maxTokens int
	config    agent.ModelConfig
}

// OpenAIConfig holds configuration parameters for creating an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL points the client at a compatible endpoint, e.g. a local proxy.
	BaseURL string

	// Model is the model identifier. Default: "gpt-4o"
	Model string

	// ContextLimit is the model's context window. Default: 128000
	ContextLimit int

	// Tokenizer names the encoding used to estimate tokens locally.
	Tokenizer string

	// MaxTokens caps the reply when the request does not. Zero leaves the
	// limit to the API.
	MaxTokens int

	// MaxRetries sets the attempts for transient failures. Default: 3.
	// Negative disables retries.
	MaxRetries int

	// RetryDelay is the base delay between attempts. Default: 1 second
	RetryDelay time.Duration
}

// NewOpenAIProvider creates an OpenAI provider.
//
// Errors:
//   - "openai: API key is required": When config.APIKey is empty
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}
	if config.ContextLimit <= 0 {
		config.ContextLimit = defaultOpenAIContextLimit
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(clientConfig),
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
func (p *OpenAIProvider) ModelConfig() agent.ModelConfig {
	return p.config
}

// Complete sends the conversation as one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Tools:    convertOpenAITools(req.Tools),
	}
	if maxTokens := req.MaxTokens; maxTokens > 0 {
		chatReq.MaxTokens = maxTokens
	} else if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}

	var resp openai.ChatCompletionResponse
	err := p.Retry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		return p.wrapError(callErr)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, agent.NewProviderError(agent.ProviderErrorRequestFailed, "response contained no choices").
			WithProvider(p.Name(), p.model)
	}
	return convertOpenAIResponse(resp), nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return agent.NewProviderError(agent.ProviderErrorContextLength, apiErr.Message).
				WithProvider(p.Name(), p.model).WithStatus(apiErr.HTTPStatusCode).WithCause(err)
		}
		return wrapError(p.Name(), p.model, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return wrapError(p.Name(), p.model, reqErr.HTTPStatusCode, "", err)
	}
	return wrapError(p.Name(), p.model, 0, "", err)
}

// convertOpenAIMessages maps the system prompt and conversation messages to
// chat messages.
func convertOpenAIMessages(messages []*models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		var (
			text      []string
			toolCalls []openai.ToolCall
			results   []openai.ChatCompletionMessage
		)
		for _, c := range msg.Content {
			switch c.Type {
			case models.ContentTypeText:
				if c.Text != "" {
					text = append(text, c.Text)
				}
			case models.ContentTypeToolRequest:
				if c.ToolRequest == nil {
					continue
				}
				name, args := "invalid_tool_call", "{}"
				if call := c.ToolRequest.ToolCall; call != nil {
					name = call.Name
					if len(call.Arguments) > 0 {
						args = string(call.Arguments)
					}
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   c.ToolRequest.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      name,
						Arguments: args,
					},
				})
			case models.ContentTypeToolResponse:
				if c.ToolResponse == nil {
					continue
				}
				content, _ := toolResponseText(*c.ToolResponse)
				results = append(results, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: c.ToolResponse.ID,
				})
			}
		}

		if msg.Role == models.RoleAssistant {
			if len(text) == 0 && len(toolCalls) == 0 {
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   strings.Join(text, "\n"),
				ToolCalls: toolCalls,
			})
			continue
		}

		// Tool results must directly follow the assistant tool_calls.
		result = append(result, results...)
		if len(text) > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: strings.Join(text, "\n"),
			})
		}
	}
	return result
}

// convertOpenAITools maps tool definitions to function tools.
func convertOpenAITools(tools []models.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// convertOpenAIResponse maps the first choice to an assistant message.
func convertOpenAIResponse(resp openai.ChatCompletionResponse) *agent.CompletionResponse {
	choice := resp.Choices[0].Message
	out := models.NewAssistantMessage()
	if choice.Content != "" {
		out.WithText(choice.Content)
	}
	for _, call := range choice.ToolCalls {
		args := json.RawMessage(call.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if !json.Valid(args) {
			out.WithToolRequestError(call.ID, models.NewToolError(models.ToolErrorInvalidParameters,
				"could not parse arguments for %s: %s", call.Function.Name, truncate(call.Function.Arguments, 200)))
			continue
		}
		out.WithToolRequest(call.ID, models.ToolCall{Name: call.Function.Name, Arguments: args})
	}
	return &agent.CompletionResponse{
		Message: out,
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
