package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/conductor/pkg/models"
)

// FrontendResult is the caller's answer to a frontend tool request.
type FrontendResult struct {
	Content []models.Content
	Error   *models.ToolError
}

// pending correlates answers with the request that asked for them. Each id
// has at most one waiter and each waiter receives at most one value, so
// answers may arrive in any order.
type pending[T any] struct {
	mu      sync.Mutex
	waiters map[string]chan T
}

func newPending[T any]() *pending[T] {
	return &pending[T]{waiters: make(map[string]chan T)}
}

// register reserves id. The returned channel receives exactly one value.
func (p *pending[T]) register(id string) (<-chan T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	ch := make(chan T, 1)
	p.waiters[id] = ch
	return ch, nil
}

// deliver hands v to the waiter for id and forgets the id.
func (p *pending[T]) deliver(id string, v T) error {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	ch <- v
	return nil
}

// release forgets id without delivering anything.
func (p *pending[T]) release(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

func (p *pending[T]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// await blocks until a value arrives on ch or ctx is done. The id is released
// on cancellation so a late answer is rejected as unknown.
func (p *pending[T]) await(ctx context.Context, id string, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		p.release(id)
		var zero T
		return zero, ctx.Err()
	}
}

// ConfirmationRouter delivers caller decisions and frontend tool results to
// the dispatcher goroutine waiting on them.
type ConfirmationRouter struct {
	decisions *pending[models.Permission]
	results   *pending[FrontendResult]
}

// NewConfirmationRouter creates an empty router.
func NewConfirmationRouter() *ConfirmationRouter {
	return &ConfirmationRouter{
		decisions: newPending[models.Permission](),
		results:   newPending[FrontendResult](),
	}
}

// Confirm delivers a permission decision. It fails with ErrUnknownRequest when
// no confirmation with that id is outstanding.
func (r *ConfirmationRouter) Confirm(c models.PermissionConfirmation) error {
	switch c.Permission {
	case models.PermissionAllowOnce, models.PermissionAlwaysAllow, models.PermissionDeny:
	default:
		return fmt.Errorf("unknown permission %q", c.Permission)
	}
	return r.decisions.deliver(c.RequestID, c.Permission)
}

// SubmitResult delivers the result of a frontend tool request.
func (r *ConfirmationRouter) SubmitResult(requestID string, result FrontendResult) error {
	return r.results.deliver(requestID, result)
}

// Pending returns the number of outstanding confirmations and frontend requests.
func (r *ConfirmationRouter) Pending() int {
	return r.decisions.len() + r.results.len()
}
