package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

func TestNewOpenAIProvider(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", Tokenizer: "o200k_base"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q", p.Name())
	}
	cfg := p.ModelConfig()
	if cfg.Model != defaultOpenAIModel || cfg.ContextLimit != defaultOpenAIContextLimit || cfg.Tokenizer != "o200k_base" {
		t.Errorf("ModelConfig() = %+v", cfg)
	}
}

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var sent openai.ChatCompletionRequest
	server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing bearer token")
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &sent); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "Reading both.",
					"tool_calls": [
						{"id": "call_1", "type": "function", "function": {"name": "developer__read", "arguments": "{\"path\":\"a.go\"}"}},
						{"id": "call_2", "type": "function", "function": {"name": "developer__read", "arguments": "{\"path\":"}}
					]
				}
			}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42}
		}`)
	})

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1/", MaxTokens: 512})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), &agent.CompletionRequest{
		System:   "be brief",
		Messages: conversation(),
		Tools:    []models.Tool{{Name: "developer__read", Description: "Reads a file"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Message.Text() != "Reading both." {
		t.Errorf("text = %q", resp.Message.Text())
	}
	reqs := resp.Message.ToolRequests()
	if len(reqs) != 2 {
		t.Fatalf("got %d tool requests", len(reqs))
	}
	if reqs[0].Name() != "developer__read" || reqs[0].Error != nil {
		t.Errorf("first request = %+v", reqs[0])
	}
	if reqs[1].Error == nil || reqs[1].Error.Kind != models.ToolErrorInvalidParameters {
		t.Errorf("second request should be malformed, got %+v", reqs[1])
	}
	if resp.Usage != (agent.Usage{InputTokens: 30, OutputTokens: 12, TotalTokens: 42}) {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if sent.MaxTokens != 512 {
		t.Errorf("max_tokens = %d", sent.MaxTokens)
	}
	roles := make([]string, len(sent.Messages))
	for i, m := range sent.Messages {
		roles[i] = m.Role
	}
	want := []string{"system", "user", "assistant", "tool"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}
	if sent.Messages[3].ToolCallID != "tu_1" || sent.Messages[3].Content != "a.go\nb.go" {
		t.Errorf("tool message = %+v", sent.Messages[3])
	}
	if len(sent.Messages[2].ToolCalls) != 1 || sent.Messages[2].ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Errorf("assistant tool calls = %+v", sent.Messages[2].ToolCalls)
	}
	if len(sent.Tools) != 1 || sent.Tools[0].Function.Name != "developer__read" {
		t.Errorf("tools = %+v", sent.Tools)
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  agent.ProviderErrorKind
		wantCalls int32
	}{
		{
			name:      "context length code",
			status:    http.StatusBadRequest,
			body:      `{"error":{"message":"This model's maximum context length is 128000 tokens.","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			wantKind:  agent.ProviderErrorContextLength,
			wantCalls: 1,
		},
		{
			name:      "invalid key",
			status:    http.StatusUnauthorized,
			body:      `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantKind:  agent.ProviderErrorAuthentication,
			wantCalls: 1,
		},
		{
			name:      "server error retried",
			status:    http.StatusBadGateway,
			body:      `{"error":{"message":"upstream failure","type":"server_error"}}`,
			wantKind:  agent.ProviderErrorServer,
			wantCalls: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1", RetryDelay: time.Millisecond})
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Complete(context.Background(), &agent.CompletionRequest{
				Messages: []*models.Message{models.NewUserMessage().WithText("hi")},
			})
			pe, ok := agent.GetProviderError(err)
			if !ok {
				t.Fatalf("error %v is not a ProviderError", err)
			}
			if pe.Kind != tt.wantKind || pe.Status != tt.status {
				t.Errorf("error = %+v", pe)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	})
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []*models.Message{models.NewUserMessage().WithText("hi")},
	})
	pe, ok := agent.GetProviderError(err)
	if !ok || pe.Kind != agent.ProviderErrorRequestFailed {
		t.Errorf("err = %v", err)
	}
}

func TestConvertOpenAITools_DefaultSchema(t *testing.T) {
	if got := convertOpenAITools(nil); got != nil {
		t.Errorf("convertOpenAITools(nil) = %v", got)
	}
	tools := convertOpenAITools([]models.Tool{{Name: "noargs"}})
	raw, err := json.Marshal(tools[0].Function.Parameters)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"type":"object","properties":{}}` {
		t.Errorf("parameters = %s", raw)
	}
}
