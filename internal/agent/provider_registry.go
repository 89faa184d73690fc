package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderSettings is the provider-independent configuration handed to a
// ProviderFactory.
type ProviderSettings struct {
	Name         string
	Model        string
	APIKey       string
	BaseURL      string
	ContextLimit int
	Tokenizer    string
	MaxTokens    int
}

// ProviderFactory builds a Provider from settings.
type ProviderFactory func(settings ProviderSettings) (Provider, error)

// ProviderRegistry maps provider names to factories. Factories are added by
// explicit Register calls during startup.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]ProviderFactory)}
}

// Register adds a factory under name. Registering a name twice is an error.
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if factory == nil {
		return fmt.Errorf("provider %s: factory is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds the provider named in settings.
func (r *ProviderRegistry) New(settings ProviderSettings) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(settings.Name))
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q (available: %s)", ErrNoProvider, settings.Name, strings.Join(r.Names(), ", "))
	}
	provider, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", name, err)
	}
	return provider, nil
}

// Names returns the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
