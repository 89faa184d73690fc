package models

import (
	"encoding/json"
	"fmt"
)

// ToolCall is a model's request to invoke a tool by name.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolRequest pairs a request id with either a parsed call or the error that
// prevented parsing it.
type ToolRequest struct {
	ID       string     `json:"id"`
	ToolCall *ToolCall  `json:"tool_call,omitempty"`
	Error    *ToolError `json:"error,omitempty"`
}

// Call returns the parsed call, or the parse error when the model produced a
// malformed request.
func (r ToolRequest) Call() (ToolCall, error) {
	if r.Error != nil {
		return ToolCall{}, r.Error
	}
	if r.ToolCall == nil {
		return ToolCall{}, NewToolError(ToolErrorInvalidParameters, "tool request has no call")
	}
	return *r.ToolCall, nil
}

// Name returns the requested tool name, or "" for malformed requests.
func (r ToolRequest) Name() string {
	if r.Error != nil || r.ToolCall == nil {
		return ""
	}
	return r.ToolCall.Name
}

// ToolResponse carries the outcome of one tool request.
type ToolResponse struct {
	ID      string     `json:"id"`
	Content []Content  `json:"content,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// Content is one item of tool output.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextContent builds a text content item.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// Tool describes a callable tool as advertised to the provider.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	InputSchema json.RawMessage  `json:"input_schema,omitempty"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolAnnotations is static metadata declared by a tool.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"read_only_hint,omitempty"`
	DestructiveHint bool   `json:"destructive_hint,omitempty"`
	IdempotentHint  bool   `json:"idempotent_hint,omitempty"`
}

// ToolErrorKind classifies tool failures reported back to the model.
type ToolErrorKind string

const (
	ToolErrorInvalidParameters ToolErrorKind = "invalid_parameters"
	ToolErrorExecution         ToolErrorKind = "execution_error"
	ToolErrorSchema            ToolErrorKind = "schema_error"
	ToolErrorNotFound          ToolErrorKind = "not_found"
)

// ToolError is a failure that is returned to the model inside a ToolResponse
// rather than aborting the turn.
type ToolError struct {
	Kind    ToolErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// NewToolError creates a ToolError.
func NewToolError(kind ToolErrorKind, format string, args ...any) *ToolError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &ToolError{Kind: kind, Message: msg}
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	switch e.Kind {
	case ToolErrorInvalidParameters:
		return "Invalid parameters: " + e.Message
	case ToolErrorExecution:
		return "Execution failed: " + e.Message
	case ToolErrorSchema:
		return "Schema error: " + e.Message
	case ToolErrorNotFound:
		return "Tool not found: " + e.Message
	default:
		return e.Message
	}
}
