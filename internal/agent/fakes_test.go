package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/conductor/internal/extensions"
	"github.com/haasonsaas/conductor/pkg/models"
)

// fakeExtensions is an in-memory ExtensionManager.
type fakeExtensions struct {
	mu        sync.Mutex
	tools     []models.Tool
	infos     []ExtensionInfo
	frontend  map[string]bool
	handlers  map[string]func(ctx context.Context, args json.RawMessage) ([]models.Content, *models.ToolError)
	calls     []string
	addErr    error
	added     []extensions.Config
	addTools  []models.Tool
	resources []models.Content

	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeExtensions(tools ...models.Tool) *fakeExtensions {
	return &fakeExtensions{
		tools:    tools,
		frontend: map[string]bool{},
		handlers: map[string]func(context.Context, json.RawMessage) ([]models.Content, *models.ToolError){},
	}
}

func (f *fakeExtensions) ExtensionsInfo() []ExtensionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExtensionInfo(nil), f.infos...)
}

func (f *fakeExtensions) PrefixedTools(context.Context) ([]models.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Tool(nil), f.tools...), nil
}

func (f *fakeExtensions) AddExtension(_ context.Context, cfg extensions.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, cfg)
	f.infos = append(f.infos, ExtensionInfo{Name: cfg.Name})
	f.tools = append(f.tools, f.addTools...)
	return nil
}

func (f *fakeExtensions) Dispatch(ctx context.Context, name string, args json.RawMessage) ([]models.Content, *models.ToolError) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, name)
	handler := f.handlers[name]
	f.mu.Unlock()

	if handler != nil {
		return handler(ctx, args)
	}
	return []models.Content{models.TextContent("ran " + name)}, nil
}

func (f *fakeExtensions) IsFrontendTool(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frontend[name]
}

func (f *fakeExtensions) ReadResource(_ context.Context, uri, _ string) ([]models.Content, error) {
	return []models.Content{{Type: "resource", URI: uri, Text: "contents of " + uri}}, nil
}

func (f *fakeExtensions) ListResources(context.Context, string) ([]models.Content, error) {
	return f.resources, nil
}

func (f *fakeExtensions) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// sleepHandler blocks for d so concurrent calls overlap.
func sleepHandler(d time.Duration) func(context.Context, json.RawMessage) ([]models.Content, *models.ToolError) {
	return func(ctx context.Context, _ json.RawMessage) ([]models.Content, *models.ToolError) {
		select {
		case <-time.After(d):
			return []models.Content{models.TextContent("done")}, nil
		case <-ctx.Done():
			return nil, models.NewToolError(models.ToolErrorExecution, "%v", ctx.Err())
		}
	}
}

// fakeCatalog is a map-backed ExtensionCatalog.
type fakeCatalog map[string]extensions.Config

func (c fakeCatalog) Get(name string) (extensions.Config, bool) {
	cfg, ok := c[name]
	return cfg, ok
}

func (c fakeCatalog) Search(active []string, _ string) []extensions.Config {
	skip := map[string]bool{}
	for _, name := range active {
		skip[name] = true
	}
	var out []extensions.Config
	for name, cfg := range c {
		if !skip[name] {
			out = append(out, cfg)
		}
	}
	return out
}

// scriptedProvider replays responses and errors in order. Once the script is
// exhausted it repeats the last step.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []providerStep
	requests []*CompletionRequest
	config   ModelConfig
}

type providerStep struct {
	message *models.Message
	usage   Usage
	err     error
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := *req
	snapshot.Messages = append([]*models.Message(nil), req.Messages...)
	p.requests = append(p.requests, &snapshot)

	idx := len(p.requests) - 1
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	step := p.steps[idx]
	if step.err != nil {
		return nil, step.err
	}
	return &CompletionResponse{Message: step.message, Usage: step.usage}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ModelConfig() ModelConfig {
	if p.config.ContextLimit == 0 {
		return ModelConfig{Model: "test-model", ContextLimit: 100_000}
	}
	return p.config
}

func (p *scriptedProvider) calls() []*CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*CompletionRequest(nil), p.requests...)
}

func toolCall(name, args string) models.ToolCall {
	return models.ToolCall{Name: name, Arguments: json.RawMessage(args)}
}

func readOnlyTool(name string) models.Tool {
	return models.Tool{Name: name, Annotations: &models.ToolAnnotations{ReadOnlyHint: true}}
}

func writeTool(name string) models.Tool {
	return models.Tool{Name: name, Annotations: &models.ToolAnnotations{}}
}

func responseText(resp models.ToolResponse) string {
	if resp.Error != nil {
		return resp.Error.Error()
	}
	var out string
	for _, c := range resp.Content {
		out += c.Text
	}
	return out
}

func responsesByID(msg *models.Message) map[string]models.ToolResponse {
	out := map[string]models.ToolResponse{}
	for _, r := range msg.ToolResponses() {
		out[r.ID] = r
	}
	return out
}
