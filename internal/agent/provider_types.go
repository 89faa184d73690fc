package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/pkg/models"
)

// Provider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with a vendor API
// (Anthropic, OpenAI, etc.) and translate conversation messages to and from
// the vendor encoding. A completion is a single request awaited to
// completion; the reply loop does not retry it except after a context
// overflow.
//
// Failures must be reported as *ProviderError so the loop can tell
// ProviderErrorContextLength apart from every other kind.
//
// Thread Safety:
// Implementations must be safe for concurrent use.
//
// See Also:
//   - providers.AnthropicProvider for the Anthropic implementation
//   - providers.OpenAIProvider for the OpenAI implementation
type Provider interface {
	// Complete sends the conversation and returns the assistant's reply.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// ModelConfig describes the configured model.
	ModelConfig() ModelConfig
}

// CompletionRequest contains all parameters for one provider call.
type CompletionRequest struct {
	// System is the system prompt, sent separately from the messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order. The last
	// message is always a user message.
	Messages []*models.Message `json:"messages"`

	// Tools lists the tools the model may call. Empty disables tool calling.
	Tools []models.Tool `json:"tools,omitempty"`

	// MaxTokens limits the reply length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionResponse is a provider's reply.
type CompletionResponse struct {
	// Message is the assistant message. Tool calls appear as tool request
	// content; malformed calls carry a ToolError instead of a ToolCall.
	Message *models.Message

	Usage Usage
}

// ModelConfig describes the model behind a provider.
type ModelConfig struct {
	// Model is the vendor model identifier.
	Model string `json:"model" yaml:"model"`

	// ContextLimit is the model's context window in tokens.
	ContextLimit int `json:"context_limit" yaml:"context_limit"`

	// Tokenizer names the tiktoken encoding or model used for counting.
	// Empty selects the default encoding.
	Tokenizer string `json:"tokenizer,omitempty" yaml:"tokenizer,omitempty"`
}

// DefaultContextLimit is used when a provider does not report a window size.
const DefaultContextLimit = 128_000

// EffectiveContextLimit returns ContextLimit or DefaultContextLimit.
func (c ModelConfig) EffectiveContextLimit() int {
	if c.ContextLimit > 0 {
		return c.ContextLimit
	}
	return DefaultContextLimit
}

// Usage reports token consumption for one or more provider calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u. TotalTokens is derived when a provider
// leaves it unset.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	total := other.TotalTokens
	if total == 0 {
		total = other.InputTokens + other.OutputTokens
	}
	u.TotalTokens += total
}

// ExtensionManager is the capability that runs extension tools.
//
// The reply loop reads PrefixedTools and ExtensionsInfo to build the tool
// list and system prompt, and calls them again after every successful
// AddExtension. Tool names returned by PrefixedTools carry the extension
// name as a prefix ("<extension>__<tool>") and are the names passed to
// Dispatch.
//
// Thread Safety:
// Dispatch is called concurrently for the approved calls of one response.
// AddExtension is only called from the reply loop goroutine.
//
// See Also:
//   - mcp.Manager for the MCP implementation
type ExtensionManager interface {
	// ExtensionsInfo describes every active extension.
	ExtensionsInfo() []ExtensionInfo

	// PrefixedTools lists the tools of every active extension.
	PrefixedTools(ctx context.Context) ([]models.Tool, error)

	// AddExtension starts the extension described by cfg.
	AddExtension(ctx context.Context, cfg extensions.Config) error

	// Dispatch runs a prefixed tool. Failures are returned as ToolError so
	// they can be shown to the model.
	Dispatch(ctx context.Context, name string, args json.RawMessage) ([]models.Content, *models.ToolError)

	// IsFrontendTool reports whether name belongs to a frontend extension,
	// whose tools the caller executes itself.
	IsFrontendTool(name string) bool

	// ReadResource reads uri from extensionName, or from the first active
	// extension that serves it when extensionName is empty.
	ReadResource(ctx context.Context, uri, extensionName string) ([]models.Content, error)

	// ListResources lists resources of extensionName, or of every active
	// extension when extensionName is empty.
	ListResources(ctx context.Context, extensionName string) ([]models.Content, error)
}

// ExtensionInfo describes one active extension for the system prompt.
type ExtensionInfo struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions,omitempty"`
	HasResources bool   `json:"has_resources"`
}

// ExtensionCatalog resolves configured extensions by name. extensions.Registry
// implements it.
type ExtensionCatalog interface {
	Get(name string) (extensions.Config, bool)
	Search(active []string, query string) []extensions.Config
}
