// Package context provides context-window management for agent conversations.
//
// This package handles:
//   - Token estimation for text, tool schemas, and full messages
//   - Budget computation from a model's context limit
//   - Truncation of conversation history with tool-pair repair
package context

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Per-message and per-tool overheads. Providers wrap every message and every
// function definition in framing tokens that never appear in the raw text.
const (
	tokensPerMessage = 4
	replyPriming     = 3

	funcInit = 7
	propInit = 3
	propKey  = 3
	enumInit = -3
	enumItem = 3
	funcEnd  = 12

	charsPerToken = 4
)

// DefaultEncoding is used when a model has no registered encoding.
const DefaultEncoding = "cl100k_base"

// TokenCounter estimates token usage. Counts are approximate; some providers
// do not publish their tokenizer.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken

	mu    sync.RWMutex
	cache map[string]int
}

var (
	encoderMu    sync.Mutex
	encoderCache = map[string]*tiktoken.Tiktoken{}
)

// NewTokenCounter returns a counter for the given tokenizer name. The name may
// be a model ID ("gpt-4o") or an encoding ("cl100k_base"). An empty name, or a
// tokenizer that cannot be loaded, selects the character heuristic.
func NewTokenCounter(tokenizer string) *TokenCounter {
	return &TokenCounter{
		encoder: loadEncoder(strings.TrimSpace(tokenizer)),
		cache:   make(map[string]int),
	}
}

// NewApproxTokenCounter returns a counter that never loads a BPE table.
func NewApproxTokenCounter() *TokenCounter {
	return &TokenCounter{cache: make(map[string]int)}
}

func loadEncoder(name string) *tiktoken.Tiktoken {
	if name == "" {
		return nil
	}
	encoderMu.Lock()
	defer encoderMu.Unlock()
	if enc, ok := encoderCache[name]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
	}
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
	}
	if err != nil {
		enc = nil
	}
	encoderCache[name] = enc
	return enc
}

// Exact reports whether counts come from a real tokenizer.
func (c *TokenCounter) Exact() bool {
	return c.encoder != nil
}

// CountText estimates the tokens in s.
func (c *TokenCounter) CountText(s string) int {
	if s == "" {
		return 0
	}
	if c.encoder == nil {
		runes := utf8.RuneCountInString(s)
		return (runes + charsPerToken - 1) / charsPerToken
	}

	c.mu.RLock()
	n, ok := c.cache[s]
	c.mu.RUnlock()
	if ok {
		return n
	}
	n = len(c.encoder.Encode(s, nil, nil))
	c.mu.Lock()
	if len(c.cache) > 4096 {
		c.cache = make(map[string]int)
	}
	c.cache[s] = n
	c.mu.Unlock()
	return n
}

type schemaProperty struct {
	Type        any    `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum"`
}

type toolSchema struct {
	Properties map[string]schemaProperty `json:"properties"`
}

// CountTools estimates the tokens consumed by advertising tools to a provider.
func (c *TokenCounter) CountTools(tools []models.Tool) int {
	total := 0
	for _, tool := range tools {
		total += funcInit
		desc := strings.TrimSuffix(tool.Description, ".")
		total += c.CountText(tool.Name + ":" + desc)

		var schema toolSchema
		if len(tool.InputSchema) > 0 {
			_ = json.Unmarshal(tool.InputSchema, &schema)
		}
		if len(schema.Properties) > 0 {
			total += propInit
			keys := make([]string, 0, len(schema.Properties))
			for k := range schema.Properties {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				prop := schema.Properties[key]
				total += propKey
				typ, _ := prop.Type.(string)
				total += c.CountText(key + ":" + typ + ":" + strings.TrimSuffix(prop.Description, "."))
				if len(prop.Enum) > 0 {
					total += enumInit
					for _, item := range prop.Enum {
						total += enumItem
						if s, ok := item.(string); ok {
							total += c.CountText(s)
						}
					}
				}
			}
		}
	}
	if total > 0 {
		total += funcEnd
	}
	return total
}

// CountMessage estimates the tokens for one message, including tool-call
// arguments and tool-response content since both are sent verbatim.
func (c *TokenCounter) CountMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	total := tokensPerMessage
	for _, item := range msg.Content {
		switch item.Type {
		case models.ContentTypeText:
			total += c.CountText(item.Text)
		case models.ContentTypeToolRequest, models.ContentTypeFrontendToolRequest:
			if req := item.ToolRequest; req != nil {
				if req.ToolCall != nil {
					total += c.CountText(req.ToolCall.Name)
					total += c.CountText(string(req.ToolCall.Arguments))
				} else if req.Error != nil {
					total += c.CountText(req.Error.Error())
				}
			}
		case models.ContentTypeToolResponse:
			if resp := item.ToolResponse; resp != nil {
				for _, content := range resp.Content {
					total += c.CountText(content.Text)
					total += c.CountText(content.Data)
				}
				if resp.Error != nil {
					total += c.CountText(resp.Error.Error())
				}
			}
		case models.ContentTypeToolConfirmationRequest:
			if conf := item.ToolConfirmationRequest; conf != nil {
				total += c.CountText(conf.ToolName)
				total += c.CountText(string(conf.Arguments))
				total += c.CountText(conf.Prompt)
			}
		}
	}
	return total
}

// CountChat estimates a full provider request: system prompt, messages and tools.
func (c *TokenCounter) CountChat(system string, messages []*models.Message, tools []models.Tool) int {
	total := 0
	if system != "" {
		total += tokensPerMessage + c.CountText(system)
	}
	for _, msg := range messages {
		total += c.CountMessage(msg)
	}
	total += c.CountTools(tools)
	return total + replyPriming
}

// CountEach returns the per-message cost array used by Truncate.
func (c *TokenCounter) CountEach(messages []*models.Message) []int {
	costs := make([]int, len(messages))
	for i, msg := range messages {
		costs[i] = c.CountMessage(msg)
	}
	return costs
}
