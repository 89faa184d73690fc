package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/conductor/internal/agent"
)

// contextLengthPhrases mark a 400 response as a context window overflow.
// Vendors report overflow as an ordinary bad request, so the body text is
// the only signal.
var contextLengthPhrases = []string{
	"too long",
	"context length",
	"context_length_exceeded",
	"maximum context",
	"reduce the length",
	"token count",
	"too many tokens",
	"exceeds",
}

// IsContextLengthMessage reports whether msg describes a context overflow.
func IsContextLengthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, phrase := range contextLengthPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status and response message to an error kind.
func ClassifyStatus(status int, message string) agent.ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return agent.ProviderErrorAuthentication
	case status == http.StatusTooManyRequests:
		return agent.ProviderErrorRateLimit
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		if IsContextLengthMessage(message) {
			return agent.ProviderErrorContextLength
		}
		return agent.ProviderErrorRequestFailed
	case status >= 500:
		return agent.ProviderErrorServer
	default:
		return agent.ProviderErrorRequestFailed
	}
}

// ClassifyError inspects an error without a status code and returns the
// appropriate kind.
func ClassifyError(err error) agent.ProviderErrorKind {
	if err == nil {
		return agent.ProviderErrorRequestFailed
	}
	if pe, ok := agent.GetProviderError(err); ok {
		return pe.Kind
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "context_length_exceeded") ||
		strings.Contains(errStr, "maximum context length") ||
		strings.Contains(errStr, "prompt is too long") {
		return agent.ProviderErrorContextLength
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return agent.ProviderErrorRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return agent.ProviderErrorAuthentication
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return agent.ProviderErrorServer
	}

	return agent.ProviderErrorRequestFailed
}

// wrapError converts an SDK error into an *agent.ProviderError. Context
// cancellation is returned unchanged so the loop can tell it apart.
func wrapError(provider, model string, status int, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := agent.GetProviderError(err); ok {
		return err
	}

	kind := ClassifyError(err)
	if status != 0 {
		kind = ClassifyStatus(status, message+" "+err.Error())
	}
	if message == "" {
		message = err.Error()
	}
	return agent.NewProviderError(kind, message).
		WithProvider(provider, model).
		WithStatus(status).
		WithCause(err)
}
