package providers

import (
	"github.com/haasonsaas/conductor/internal/agent"
)

// Register adds the Anthropic and OpenAI factories to registry.
func Register(registry *agent.ProviderRegistry) error {
	if err := registry.Register("anthropic", func(s agent.ProviderSettings) (agent.Provider, error) {
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       s.APIKey,
			BaseURL:      s.BaseURL,
			Model:        s.Model,
			ContextLimit: s.ContextLimit,
			Tokenizer:    s.Tokenizer,
			MaxTokens:    s.MaxTokens,
		})
	}); err != nil {
		return err
	}
	return registry.Register("openai", func(s agent.ProviderSettings) (agent.Provider, error) {
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       s.APIKey,
			BaseURL:      s.BaseURL,
			Model:        s.Model,
			ContextLimit: s.ContextLimit,
			Tokenizer:    s.Tokenizer,
			MaxTokens:    s.MaxTokens,
		})
	})
}
