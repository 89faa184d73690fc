package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conductor/pkg/models"
)

const readOnlyDetectorPrompt = `You classify tool calls. A call is read-only when running it cannot create, modify or delete anything: no file writes, no state changes, no network side effects beyond fetching data.

Reply with a JSON array containing the names of the read-only tools among the calls listed by the user, for example ["developer__list_files"]. Reply with [] when none are read-only. Output only the array.`

// LLMReadOnlyDetector asks a provider which of a batch of tool calls are
// read-only. It backs the smart_approve trust mode.
type LLMReadOnlyDetector struct {
	provider Provider
	logger   *slog.Logger
}

// NewLLMReadOnlyDetector creates a detector that classifies with provider.
func NewLLMReadOnlyDetector(provider Provider, logger *slog.Logger) *LLMReadOnlyDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReadOnlyDetector{
		provider: provider,
		logger:   logger.With("component", "readonly_detector"),
	}
}

// DetectReadOnly returns the names of the requested tools the provider judged
// read-only. Names the provider invents are dropped.
func (d *LLMReadOnlyDetector) DetectReadOnly(ctx context.Context, requests []models.ToolRequest) ([]string, error) {
	if d.provider == nil {
		return nil, ErrNoProvider
	}
	if len(requests) == 0 {
		return nil, nil
	}

	requested := make(map[string]struct{}, len(requests))
	var listing strings.Builder
	for _, req := range requests {
		call, err := req.Call()
		if err != nil {
			continue
		}
		requested[call.Name] = struct{}{}
		args := string(call.Arguments)
		if args == "" {
			args = "{}"
		}
		fmt.Fprintf(&listing, "- %s %s\n", call.Name, args)
	}
	if len(requested) == 0 {
		return nil, nil
	}

	resp, err := d.provider.Complete(ctx, &CompletionRequest{
		System:    readOnlyDetectorPrompt,
		Messages:  []*models.Message{models.NewUserMessage().WithText(listing.String())},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, fmt.Errorf("read-only detection: %w", err)
	}
	if resp == nil || resp.Message == nil {
		return nil, errors.New("read-only detection: empty response")
	}

	names, err := parseNameList(resp.Message.Text())
	if err != nil {
		return nil, fmt.Errorf("read-only detection: %w", err)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := requested[name]; ok {
			out = append(out, name)
		} else {
			d.logger.Debug("ignoring unrequested tool in detector reply", "tool", name)
		}
	}
	return out, nil
}

// parseNameList extracts the first JSON array of strings from text. Models
// often wrap the array in prose or a code fence.
func parseNameList(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in reply %q", truncateForLog(text, 200))
	}
	var names []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &names); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return names, nil
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
