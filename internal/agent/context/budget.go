package context

import (
	"fmt"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Budget is the token allowance left for conversation history.
type Budget struct {
	ContextLimit   int
	EstimateFactor float64
	SystemTokens   int
	ToolTokens     int
	Remaining      int
}

// ComputeBudget derives the history budget from a model's context limit.
// The scaled limit truncates toward zero. When the system prompt and tools
// alone reach the scaled limit, ErrSystemExceedsBudget is returned.
func ComputeBudget(contextLimit int, estimateFactor float64, systemTokens, toolTokens int) (Budget, error) {
	scaled := int(float64(contextLimit) * estimateFactor)
	b := Budget{
		ContextLimit:   contextLimit,
		EstimateFactor: estimateFactor,
		SystemTokens:   systemTokens,
		ToolTokens:     toolTokens,
	}
	if systemTokens+toolTokens >= scaled {
		return b, fmt.Errorf("%w: system=%d tools=%d limit=%d", ErrSystemExceedsBudget, systemTokens, toolTokens, scaled)
	}
	b.Remaining = scaled - systemTokens - toolTokens
	return b, nil
}

// FitRequest describes one truncation attempt against a model's window.
type FitRequest struct {
	Messages       []*models.Message
	System         string
	Tools          []models.Tool
	ContextLimit   int
	EstimateFactor float64
	Policy         Policy
}

// TruncateToFit computes the budget for req and truncates its messages to it.
// The budget is checked before any message is inspected.
func (c *TokenCounter) TruncateToFit(req FitRequest) (*Result, error) {
	budget, err := ComputeBudget(req.ContextLimit, req.EstimateFactor, c.CountText(req.System), c.CountTools(req.Tools))
	if err != nil {
		return nil, err
	}
	return Truncate(req.Messages, c.CountEach(req.Messages), budget.Remaining, req.Policy)
}
