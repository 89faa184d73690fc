package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType discriminates the MessageContent union.
type ContentType string

const (
	ContentTypeText                    ContentType = "text"
	ContentTypeToolRequest             ContentType = "tool_request"
	ContentTypeToolResponse            ContentType = "tool_response"
	ContentTypeToolConfirmationRequest ContentType = "tool_confirmation_request"
	ContentTypeFrontendToolRequest     ContentType = "frontend_tool_request"
)

// Message is one entry of a conversation. Messages are treated as immutable
// once appended to a history; builders return the receiver for chaining while
// the message is being assembled.
type Message struct {
	ID      string           `json:"id"`
	Role    Role             `json:"role"`
	Created time.Time        `json:"created"`
	Content []MessageContent `json:"content"`
}

// MessageContent is a tagged union. Exactly one payload field is set and it
// matches Type.
type MessageContent struct {
	Type                    ContentType              `json:"type"`
	Text                    string                   `json:"text,omitempty"`
	ToolRequest             *ToolRequest             `json:"tool_request,omitempty"`
	ToolResponse            *ToolResponse            `json:"tool_response,omitempty"`
	ToolConfirmationRequest *ToolConfirmationRequest `json:"tool_confirmation_request,omitempty"`
}

// ToolConfirmationRequest asks the caller to approve a pending tool call.
// The caller answers with a PermissionConfirmation whose RequestID equals ID.
type ToolConfirmationRequest struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
}

// NewMessage creates an empty message with a fresh ID and creation time.
func NewMessage(role Role) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Role:    role,
		Created: time.Now(),
	}
}

// NewUserMessage creates an empty user message.
func NewUserMessage() *Message { return NewMessage(RoleUser) }

// NewAssistantMessage creates an empty assistant message.
func NewAssistantMessage() *Message { return NewMessage(RoleAssistant) }

// WithText appends a text item.
func (m *Message) WithText(text string) *Message {
	m.Content = append(m.Content, MessageContent{Type: ContentTypeText, Text: text})
	return m
}

// WithToolRequest appends a well-formed tool request.
func (m *Message) WithToolRequest(id string, call ToolCall) *Message {
	m.Content = append(m.Content, MessageContent{
		Type:        ContentTypeToolRequest,
		ToolRequest: &ToolRequest{ID: id, ToolCall: &call},
	})
	return m
}

// WithToolRequestError appends a tool request the model produced but that could
// not be parsed into a ToolCall.
func (m *Message) WithToolRequestError(id string, err *ToolError) *Message {
	m.Content = append(m.Content, MessageContent{
		Type:        ContentTypeToolRequest,
		ToolRequest: &ToolRequest{ID: id, Error: err},
	})
	return m
}

// WithFrontendToolRequest appends a request the caller must execute itself.
func (m *Message) WithFrontendToolRequest(id string, call ToolCall) *Message {
	m.Content = append(m.Content, MessageContent{
		Type:        ContentTypeFrontendToolRequest,
		ToolRequest: &ToolRequest{ID: id, ToolCall: &call},
	})
	return m
}

// WithToolResponse appends a tool response. A nil err means success.
func (m *Message) WithToolResponse(id string, content []Content, err *ToolError) *Message {
	m.Content = append(m.Content, MessageContent{
		Type:         ContentTypeToolResponse,
		ToolResponse: &ToolResponse{ID: id, Content: content, Error: err},
	})
	return m
}

// WithToolConfirmationRequest appends a confirmation prompt for a pending call.
func (m *Message) WithToolConfirmationRequest(id, toolName string, args json.RawMessage, prompt string) *Message {
	m.Content = append(m.Content, MessageContent{
		Type: ContentTypeToolConfirmationRequest,
		ToolConfirmationRequest: &ToolConfirmationRequest{
			ID:        id,
			ToolName:  toolName,
			Arguments: args,
			Prompt:    prompt,
		},
	})
	return m
}

// ToolRequests returns the tool requests carried by the message, in order.
func (m *Message) ToolRequests() []ToolRequest {
	var out []ToolRequest
	for _, c := range m.Content {
		if c.Type == ContentTypeToolRequest && c.ToolRequest != nil {
			out = append(out, *c.ToolRequest)
		}
	}
	return out
}

// ToolResponses returns the tool responses carried by the message, in order.
func (m *Message) ToolResponses() []ToolResponse {
	var out []ToolResponse
	for _, c := range m.Content {
		if c.Type == ContentTypeToolResponse && c.ToolResponse != nil {
			out = append(out, *c.ToolResponse)
		}
	}
	return out
}

// HasToolRequests reports whether the message carries at least one tool request.
func (m *Message) HasToolRequests() bool {
	for _, c := range m.Content {
		if c.Type == ContentTypeToolRequest {
			return true
		}
	}
	return false
}

// Text joins all text items with newlines.
func (m *Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == ContentTypeText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// WithoutToolRequests returns a copy of the message with every tool request
// removed. Role, ID and creation time are preserved.
func (m *Message) WithoutToolRequests() *Message {
	out := &Message{ID: m.ID, Role: m.Role, Created: m.Created}
	for _, c := range m.Content {
		if c.Type == ContentTypeToolRequest {
			continue
		}
		out.Content = append(out.Content, c)
	}
	return out
}

// IsEmpty reports whether the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0
}
