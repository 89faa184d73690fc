package agent

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
)

// ExecutorConfig configures the parallel tool executor.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions.
	// Zero means unbounded.
	// Default: 0
	MaxConcurrency int

	// DefaultTimeout bounds a single tool execution. Zero leaves timeouts to
	// the extension transport.
	// Default: 0
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{}
}

// Executor runs approved tool calls through an ExtensionManager, all at once
// or bounded by a semaphore.
type Executor struct {
	extensions ExtensionManager
	config     *ExecutorConfig

	// Semaphore for concurrency limiting; nil when unbounded
	sem chan struct{}

	// Metrics
	metrics *ExecutorMetrics

	tracer   *observability.Tracer
	recorder *observability.Metrics
}

// ExecutorMetrics tracks executor counts.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
	InFlight        int64
	PeakInFlight    int64
}

// NewExecutor creates an executor. If config is nil, DefaultExecutorConfig is used.
func NewExecutor(extensions ExtensionManager, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	e := &Executor{
		extensions: extensions,
		config:     config,
		metrics:    &ExecutorMetrics{},
	}
	if config.MaxConcurrency > 0 {
		e.sem = make(chan struct{}, config.MaxConcurrency)
	}
	return e
}

// ExecutionResult holds the outcome of one tool request.
type ExecutionResult struct {
	RequestID string
	ToolName  string
	Content   []models.Content
	Error     *models.ToolError
	Duration  time.Duration
}

// ExecuteAll runs every request concurrently and waits for all of them.
// Results are returned in the same order as the input requests.
func (e *Executor) ExecuteAll(ctx context.Context, requests []models.ToolRequest) []*ExecutionResult {
	if len(requests) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(requests))
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)
		go func(idx int, r models.ToolRequest) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, r)
		}(i, req)
	}

	wg.Wait()
	return results
}

// Execute runs a single request. Malformed requests, dispatch failures and
// panics all come back as a ToolError on the result.
func (e *Executor) Execute(ctx context.Context, req models.ToolRequest) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		RequestID: req.ID,
		ToolName:  req.Name(),
	}

	call, err := req.Call()
	if err != nil {
		result.Error = asToolError(err)
		e.record(result, false, false)
		return result
	}
	if e.extensions == nil {
		result.Error = models.NewToolError(models.ToolErrorNotFound, "%s", call.Name)
		e.record(result, false, false)
		return result
	}

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			result.Error = models.NewToolError(models.ToolErrorExecution, "%s: %v", call.Name, ctx.Err())
			result.Duration = time.Since(start)
			e.record(result, false, false)
			return result
		}
	}

	e.enter()
	defer e.leave()

	spanCtx, span := e.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	content, toolErr, timedOut, panicked := e.executeWithTimeout(spanCtx, call)
	result.Content = content
	result.Error = toolErr
	result.Duration = time.Since(start)
	e.record(result, timedOut, panicked)

	status := "success"
	if toolErr != nil {
		status = "error"
		e.tracer.RecordError(span, toolErr)
	}
	e.recorder.RecordToolExecution(call.Name, status, result.Duration.Seconds())
	return result
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall) ([]models.Content, *models.ToolError, bool, bool) {
	execCtx := ctx
	if e.config.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.config.DefaultTimeout)
		defer cancel()
	}

	type execResult struct {
		content  []models.Content
		err      *models.ToolError
		panicked bool
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- execResult{
					err:      models.NewToolError(models.ToolErrorExecution, "%v: %v\n%s", ErrToolPanic, r, stack),
					panicked: true,
				}
			}
		}()
		content, err := e.extensions.Dispatch(execCtx, call.Name, call.Arguments)
		resultCh <- execResult{content: content, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.content, res.err, false, res.panicked
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, models.NewToolError(models.ToolErrorExecution, "%s: %v", call.Name, ctx.Err()), false, false
		}
		return nil, models.NewToolError(models.ToolErrorExecution, "%s timed out after %s", call.Name, e.config.DefaultTimeout), true, false
	}
}

func (e *Executor) enter() {
	e.metrics.mu.Lock()
	e.metrics.InFlight++
	if e.metrics.InFlight > e.metrics.PeakInFlight {
		e.metrics.PeakInFlight = e.metrics.InFlight
	}
	e.metrics.mu.Unlock()
}

func (e *Executor) leave() {
	e.metrics.mu.Lock()
	e.metrics.InFlight--
	e.metrics.mu.Unlock()
}

func (e *Executor) record(result *ExecutionResult, timedOut, panicked bool) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.TotalExecutions++
	if result.Error != nil {
		e.metrics.TotalFailures++
	}
	if timedOut {
		e.metrics.TotalTimeouts++
	}
	if panicked {
		e.metrics.TotalPanics++
	}
}

// Metrics returns a copy-safe snapshot of the executor metrics.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
		PeakInFlight:    e.metrics.PeakInFlight,
	}
}

// ExecutorMetricsSnapshot is a copy of executor metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
	PeakInFlight    int64
}

func asToolError(err error) *models.ToolError {
	var te *models.ToolError
	if errors.As(err, &te) {
		return te
	}
	return models.NewToolError(models.ToolErrorExecution, "%v", err)
}
