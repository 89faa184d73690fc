package context

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/conductor/pkg/models"
)

var (
	// ErrContextExceeded indicates history cannot be brought under the budget.
	ErrContextExceeded = errors.New("context length exceeded")

	// ErrSystemExceedsBudget indicates the system prompt and tool schemas
	// alone consume the whole budget.
	ErrSystemExceedsBudget = errors.New("system prompt and tools exceed estimated context limit")
)

// Policy chooses which messages to drop to fit a budget. Implementations only
// select indices; Truncate owns pair repair and the trailing-role rule.
type Policy interface {
	// Select returns the indices to remove so that the remaining cost is at
	// most budget, removing at least the minimum the policy requires.
	Select(messages []*models.Message, costs []int, budget int) map[int]struct{}
}

// OldestFirst removes messages from the start of the conversation until the
// remainder fits. A message whose tool request or response is paired with
// another message drags that partner along.
type OldestFirst struct{}

// Select implements Policy.
func (OldestFirst) Select(messages []*models.Message, costs []int, budget int) map[int]struct{} {
	removed := make(map[int]struct{})
	total := sum(costs)
	remaining := len(messages)
	pairs := newPairIndex(messages)

	for i := 0; i < len(messages) && total > budget && remaining > 1; i++ {
		if _, ok := removed[i]; ok {
			continue
		}
		for _, idx := range pairs.closure(i, removed) {
			removed[idx] = struct{}{}
			total -= costs[idx]
			remaining--
		}
	}
	return removed
}

// Result describes a completed truncation.
type Result struct {
	Messages []*models.Message
	Costs    []int
	Removed  int
	Total    int
}

// Truncate drops messages until the total cost fits budget. It never leaves
// half of a tool request/response pair and always ends on a user message.
// The input slice is not modified.
func Truncate(messages []*models.Message, costs []int, budget int, policy Policy) (*Result, error) {
	if len(messages) != len(costs) {
		return nil, fmt.Errorf("truncate: %d messages but %d costs", len(messages), len(costs))
	}
	if policy == nil {
		policy = OldestFirst{}
	}

	removed := make(map[int]struct{})
	if sum(costs) > budget {
		removed = policy.Select(messages, costs, budget)
	}

	pairs := newPairIndex(messages)
	for {
		changed := pairs.repair(removed)
		if trimTrailing(messages, removed) {
			changed = true
		}
		if !changed {
			break
		}
	}

	out := &Result{Removed: len(removed)}
	for i, msg := range messages {
		if _, ok := removed[i]; ok {
			continue
		}
		out.Messages = append(out.Messages, msg)
		out.Costs = append(out.Costs, costs[i])
		out.Total += costs[i]
	}

	if len(out.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages left after truncation", ErrContextExceeded)
	}
	if out.Total > budget {
		return nil, fmt.Errorf("%w: %d tokens remain against a budget of %d", ErrContextExceeded, out.Total, budget)
	}
	return out, nil
}

// trimTrailing removes surviving messages from the end until the last one is
// a user message. It reports whether anything was removed.
func trimTrailing(messages []*models.Message, removed map[int]struct{}) bool {
	changed := false
	for i := len(messages) - 1; i >= 0; i-- {
		if _, ok := removed[i]; ok {
			continue
		}
		if messages[i].Role == models.RoleUser {
			break
		}
		removed[i] = struct{}{}
		changed = true
	}
	return changed
}

// pairIndex maps tool ids to the messages that hold their request and
// response halves.
type pairIndex struct {
	requests  map[string][]int
	responses map[string][]int
	ids       [][]string
}

func newPairIndex(messages []*models.Message) *pairIndex {
	p := &pairIndex{
		requests:  make(map[string][]int),
		responses: make(map[string][]int),
		ids:       make([][]string, len(messages)),
	}
	for i, msg := range messages {
		if msg == nil {
			continue
		}
		for _, c := range msg.Content {
			switch {
			case c.Type == models.ContentTypeToolRequest && c.ToolRequest != nil:
				p.requests[c.ToolRequest.ID] = append(p.requests[c.ToolRequest.ID], i)
				p.ids[i] = append(p.ids[i], c.ToolRequest.ID)
			case c.Type == models.ContentTypeToolResponse && c.ToolResponse != nil:
				p.responses[c.ToolResponse.ID] = append(p.responses[c.ToolResponse.ID], i)
				p.ids[i] = append(p.ids[i], c.ToolResponse.ID)
			}
		}
	}
	return p
}

// partners returns every message index that shares a tool id with message i.
func (p *pairIndex) partners(i int) []int {
	var out []int
	for _, id := range p.ids[i] {
		out = append(out, p.requests[id]...)
		out = append(out, p.responses[id]...)
	}
	return out
}

// closure returns i and every message transitively paired with it that is
// not yet removed.
func (p *pairIndex) closure(i int, removed map[int]struct{}) []int {
	seen := map[int]struct{}{i: {}}
	queue := []int{i}
	var out []int
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		for _, j := range p.partners(cur) {
			if _, ok := seen[j]; ok {
				continue
			}
			if _, ok := removed[j]; ok {
				continue
			}
			seen[j] = struct{}{}
			queue = append(queue, j)
		}
	}
	return out
}

// repair removes any surviving message that holds a tool id whose request or
// response half does not survive exactly once. It reports whether anything
// was removed.
func (p *pairIndex) repair(removed map[int]struct{}) bool {
	changed := false
	for {
		progress := false
		for i, ids := range p.ids {
			if _, ok := removed[i]; ok {
				continue
			}
			for _, id := range ids {
				if p.alive(p.requests[id], removed) == 1 && p.alive(p.responses[id], removed) == 1 {
					continue
				}
				removed[i] = struct{}{}
				progress = true
				break
			}
		}
		if !progress {
			return changed
		}
		changed = true
	}
}

func (p *pairIndex) alive(indices []int, removed map[int]struct{}) int {
	n := 0
	for _, i := range indices {
		if _, ok := removed[i]; !ok {
			n++
		}
	}
	return n
}

func sum(costs []int) int {
	total := 0
	for _, c := range costs {
		total += c
	}
	return total
}
