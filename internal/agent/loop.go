package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/tools/policy"
	"github.com/haasonsaas/conductor/pkg/models"
)

const (
	// MaxTruncationAttempts bounds truncate-and-retry cycles after consecutive
	// context overflows.
	MaxTruncationAttempts = 3

	// EstimateFactorDecay scales the context limit once per truncation attempt.
	EstimateFactorDecay = 0.9

	// DefaultMaxTurns bounds provider round trips within one reply.
	DefaultMaxTurns = 1000
)

const (
	truncationExhaustedMessage = "Error: Context length exceeds limits even after multiple attempts to truncate. " +
		"Please start a new session with fresh context and try again."
	truncationFailedFormat = "Error: Unable to truncate messages to stay within context limit. \n\n" +
		"Ran into this error: %v.\n\nPlease start a new session with fresh context and try again."
	providerErrorFormat = "Ran into this error: %v.\n\n" +
		"Please retry if you think this is a transient or recoverable error."
	maxTurnsFormat = "Stopped after %d model calls in a single reply. Send another message to continue."
)

// truncationFactor returns the estimate factor for a 1-based attempt.
func truncationFactor(attempt int) float64 {
	return math.Pow(EstimateFactorDecay, float64(attempt))
}

// LoopConfig configures the reply loop.
type LoopConfig struct {
	// MaxTurns limits provider calls per reply.
	// Default: 1000
	MaxTurns int

	// MaxTokens is passed to every provider call. Zero uses the provider default.
	MaxTokens int

	// SystemPrompt replaces the default preamble of the system prompt.
	SystemPrompt string

	// Instructions are appended to the system prompt.
	Instructions []string

	// Executor bounds concurrent tool calls.
	Executor *ExecutorConfig

	// Truncation selects the messages dropped after a context overflow.
	// Default: agentctx.OldestFirst
	Truncation agentctx.Policy
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxTurns:   DefaultMaxTurns,
		Executor:   DefaultExecutorConfig(),
		Truncation: agentctx.OldestFirst{},
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.MaxTokens < 0 {
		cfg.MaxTokens = 0
	}
	if cfg.Executor == nil {
		cfg.Executor = defaults.Executor
	}
	if cfg.Truncation == nil {
		cfg.Truncation = defaults.Truncation
	}
	return &cfg
}

// LoopOptions wires the reply loop's collaborators.
type LoopOptions struct {
	Provider   Provider
	Extensions ExtensionManager

	// Catalog resolves extensions the model asks to enable or search.
	Catalog ExtensionCatalog

	// Permissions stores always-allow and always-deny decisions.
	// Default: in-memory
	Permissions *policy.Manager

	// Detector classifies unannotated tools in smart_approve mode.
	// Default: an LLMReadOnlyDetector over Provider
	Detector policy.ReadOnlyDetector

	// Counter estimates tokens for truncation.
	// Default: a counter for the provider's tokenizer
	Counter *agentctx.TokenCounter

	// Mode is read once at the start of every reply.
	// Default: approve
	Mode func() policy.TrustMode

	// SessionID tags logs and spans.
	SessionID string

	Config  *LoopConfig
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// ReplyLoop drives one conversation: it calls the provider, routes tool
// requests through the permission judge and dispatcher, and streams every
// caller-visible message.
//
// Each reply moves through these phases:
//
//	AwaitingProvider ──▶ Categorizing ──▶ PermissionChecking ──▶ AwaitingConfirmation*
//	      ▲   │                                                         │
//	      │   │ context overflow                                        ▼
//	      │   └──▶ TruncateAndRetry ──▶ (retry)                    Dispatching
//	      │                                                             │
//	      └──────────────────────────── AppendingResponse ◀─────────────┘
//
// A response without tool requests, an unrecoverable provider error, or
// truncation exhaustion ends the reply (Terminal).
//
// Only one reply runs at a time per loop.
type ReplyLoop struct {
	provider   Provider
	extensions ExtensionManager
	dispatcher *Dispatcher
	counter    *agentctx.TokenCounter
	mode       func() policy.TrustMode
	sessionID  string
	config     *LoopConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	busy atomic.Bool
}

// NewReplyLoop creates a reply loop from opts.
func NewReplyLoop(opts LoopOptions) (*ReplyLoop, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Extensions == nil {
		return nil, ErrNoExtensionManager
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	config := sanitizeLoopConfig(opts.Config)

	detector := opts.Detector
	if detector == nil {
		detector = NewLLMReadOnlyDetector(opts.Provider, logger)
	}
	counter := opts.Counter
	if counter == nil {
		counter = agentctx.NewTokenCounter(opts.Provider.ModelConfig().Tokenizer)
	}
	mode := opts.Mode
	if mode == nil {
		mode = func() policy.TrustMode { return policy.ModeApprove }
	}

	return &ReplyLoop{
		provider:   opts.Provider,
		extensions: opts.Extensions,
		dispatcher: NewDispatcher(DispatcherOptions{
			Extensions:  opts.Extensions,
			Catalog:     opts.Catalog,
			Permissions: opts.Permissions,
			Detector:    detector,
			Executor:    config.Executor,
			Logger:      logger,
			Metrics:     opts.Metrics,
			Tracer:      opts.Tracer,
		}),
		counter:   counter,
		mode:      mode,
		sessionID: opts.SessionID,
		config:    config,
		logger:    logger.With("component", "reply_loop"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}, nil
}

// SubmitConfirmation answers a ToolConfirmationRequest emitted by the
// running reply.
func (l *ReplyLoop) SubmitConfirmation(c models.PermissionConfirmation) error {
	return l.dispatcher.Router().Confirm(c)
}

// SubmitToolResult answers a frontend tool request emitted by the running
// reply.
func (l *ReplyLoop) SubmitToolResult(requestID string, result FrontendResult) error {
	return l.dispatcher.Router().SubmitResult(requestID, result)
}

// Turn is one running reply. Callers must drain Messages or call Stop.
type Turn struct {
	// ID correlates the turn's logs and spans.
	ID string

	messages chan *models.Message
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	usage   Usage
	history []*models.Message
	outcome string
	err     error
}

// Messages streams the reply's messages in order. The channel is closed when
// the reply reaches a terminal state.
func (t *Turn) Messages() <-chan *models.Message {
	return t.messages
}

// Stop cancels the reply, including in-flight tool calls and pending
// confirmations.
func (t *Turn) Stop() {
	t.cancel()
}

// Wait blocks until the reply ends and returns Err.
func (t *Turn) Wait() error {
	<-t.done
	return t.Err()
}

// Err reports why the reply ended abnormally. Provider failures and
// truncation exhaustion are returned as *LoopError after their explanatory
// message has been emitted.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Usage returns the tokens consumed so far.
func (t *Turn) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Outcome names the terminal state: complete, truncation_exhausted,
// provider_error, max_turns or cancelled. Empty while running.
func (t *Turn) Outcome() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// History returns the conversation after the reply: the input history,
// possibly truncated, followed by every response and tool response pair.
func (t *Turn) History() []*models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*models.Message(nil), t.history...)
}

func (t *Turn) addUsage(u Usage) {
	t.mu.Lock()
	t.usage.Add(u)
	t.mu.Unlock()
}

func (t *Turn) finish(outcome string, history []*models.Message, err error) {
	t.mu.Lock()
	t.outcome = outcome
	t.history = history
	t.err = err
	t.mu.Unlock()
}

// emit hands msg to the consumer, blocking until it is taken or ctx ends.
func (t *Turn) emit(ctx context.Context, msg *models.Message) error {
	select {
	case t.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reply starts a reply to history, whose last message should be the user's.
// The input slice is not modified.
func (l *ReplyLoop) Reply(ctx context.Context, history []*models.Message) (*Turn, error) {
	if len(history) == 0 {
		return nil, errors.New("history is empty")
	}
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	turn := &Turn{
		ID:       uuid.NewString(),
		messages: make(chan *models.Message),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		defer close(turn.done)
		defer l.busy.Store(false)
		defer close(turn.messages)
		defer cancel()
		l.run(runCtx, turn, append([]*models.Message(nil), history...))
	}()

	return turn, nil
}

type turnState struct {
	phase     LoopPhase
	iteration int
	attempts  int
	mode      policy.TrustMode
	system    string
	tools     []models.Tool
	history   []*models.Message
}

func (l *ReplyLoop) run(ctx context.Context, turn *Turn, history []*models.Message) {
	if l.sessionID != "" {
		ctx = observability.AddSessionID(ctx, l.sessionID)
	}
	ctx = observability.AddTurnID(ctx, turn.ID)

	state := &turnState{
		phase:   PhaseAwaitingProvider,
		mode:    l.mode(),
		history: history,
	}

	ctx, span := l.tracer.TraceTurn(ctx, l.sessionID, state.mode.String())
	defer span.End()

	l.logger.InfoContext(ctx, "reply started", "mode", state.mode, "messages", len(history))

	end := func(outcome string, err error) {
		state.phase = PhaseTerminal
		if err != nil {
			l.tracer.RecordError(span, err)
		}
		l.metrics.RecordTurn(outcome)
		turn.finish(outcome, state.history, err)
		l.logger.InfoContext(ctx, "reply finished", "outcome", outcome, "iterations", state.iteration)
	}
	terminal := func(outcome, text string, err error) {
		// Best effort; the consumer may already be gone.
		_ = turn.emit(ctx, models.NewAssistantMessage().WithText(text))
		end(outcome, err)
	}

	if err := l.prepare(ctx, state); err != nil {
		l.logger.ErrorContext(ctx, "failed to list tools", "error", err)
		terminal("provider_error", fmt.Sprintf(providerErrorFormat, err), &LoopError{Phase: PhaseAwaitingProvider, Cause: err})
		return
	}

	for {
		if ctx.Err() != nil {
			end("cancelled", ctx.Err())
			return
		}
		if state.iteration >= l.config.MaxTurns {
			l.logger.WarnContext(ctx, "max turns reached", "max_turns", l.config.MaxTurns)
			terminal("max_turns", fmt.Sprintf(maxTurnsFormat, l.config.MaxTurns), &LoopError{
				Phase:     state.phase,
				Iteration: state.iteration,
				Cause:     ErrMaxTurns,
			})
			return
		}

		state.phase = PhaseAwaitingProvider
		resp, err := l.complete(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				end("cancelled", ctx.Err())
				return
			}
			if IsContextLengthExceeded(err) {
				if l.truncateAndRetry(ctx, state, terminal) {
					continue
				}
				return
			}
			l.logger.ErrorContext(ctx, "provider request failed", "error", err)
			terminal("provider_error", fmt.Sprintf(providerErrorFormat, err), &LoopError{
				Phase:     PhaseAwaitingProvider,
				Iteration: state.iteration,
				Cause:     err,
			})
			return
		}

		state.attempts = 0
		state.iteration++
		turn.addUsage(resp.Usage)
		response := resp.Message

		state.phase = PhaseCategorizing
		categorized := Categorize(response, l.extensions.IsFrontendTool)
		if !categorized.Visible.IsEmpty() {
			if err := turn.emit(ctx, categorized.Visible); err != nil {
				end("cancelled", err)
				return
			}
		}

		if categorized.Len() == 0 {
			state.history = append(state.history, response)
			end("complete", nil)
			return
		}

		state.phase = PhaseDispatching
		result, err := l.dispatcher.Dispatch(ctx, DispatchInput{
			Categorized: categorized,
			Tools:       state.tools,
			Mode:        state.mode,
			Emit:        turn.emit,
		})
		if err != nil {
			end("cancelled", &LoopError{Phase: state.phase, Iteration: state.iteration, Cause: err})
			return
		}

		if result.ExtensionsChanged {
			if err := l.prepare(ctx, state); err != nil {
				l.logger.WarnContext(ctx, "failed to refresh tools after enabling extension", "error", err)
			}
		}

		state.phase = PhaseAppendingResponse
		if err := turn.emit(ctx, result.Response); err != nil {
			end("cancelled", err)
			return
		}
		state.history = append(state.history, response, result.Response)
	}
}

// prepare rebuilds the tool list and system prompt from the active extensions.
func (l *ReplyLoop) prepare(ctx context.Context, state *turnState) error {
	tools, err := l.extensions.PrefixedTools(ctx)
	if err != nil {
		return fmt.Errorf("list extension tools: %w", err)
	}
	infos := l.extensions.ExtensionsInfo()
	hasResources := false
	for _, info := range infos {
		if info.HasResources {
			hasResources = true
			break
		}
	}
	state.tools = append(tools, PlatformTools(hasResources)...)
	state.system = BuildSystemPrompt(SystemPromptOptions{
		Base:       l.config.SystemPrompt,
		Extra:      l.config.Instructions,
		Extensions: infos,
		Mode:       state.mode,
	})
	return nil
}

// complete performs one provider round trip.
func (l *ReplyLoop) complete(ctx context.Context, state *turnState) (*CompletionResponse, error) {
	model := l.provider.ModelConfig().Model
	ctx, span := l.tracer.TraceProviderRequest(ctx, l.provider.Name(), model)
	defer span.End()

	start := time.Now()
	resp, err := l.provider.Complete(ctx, &CompletionRequest{
		System:    state.system,
		Messages:  state.history,
		Tools:     state.tools,
		MaxTokens: l.config.MaxTokens,
	})
	if err == nil && (resp == nil || resp.Message == nil) {
		err = NewProviderError(ProviderErrorRequestFailed, "provider returned no message").
			WithProvider(l.provider.Name(), model)
	}

	status := "success"
	var usage Usage
	if err != nil {
		status = string(ProviderErrorRequestFailed)
		if pe, ok := GetProviderError(err); ok {
			status = string(pe.Kind)
		}
		l.tracer.RecordError(span, err)
		l.metrics.RecordError("provider", status)
	} else {
		usage = resp.Usage
	}
	l.metrics.RecordProviderRequest(l.provider.Name(), model, status, time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// truncateAndRetry shrinks the history after a context overflow. It returns
// false after emitting the terminal message when no further retry is allowed.
func (l *ReplyLoop) truncateAndRetry(ctx context.Context, state *turnState, terminal func(string, string, error)) bool {
	state.phase = PhaseTruncateAndRetry
	if state.attempts >= MaxTruncationAttempts {
		l.logger.ErrorContext(ctx, "context length exceeded after all truncation attempts", "max", MaxTruncationAttempts)
		l.metrics.RecordTruncation("exhausted")
		terminal("truncation_exhausted", truncationExhaustedMessage, &LoopError{
			Phase:     PhaseTruncateAndRetry,
			Iteration: state.iteration,
			Cause:     agentctx.ErrContextExceeded,
		})
		return false
	}

	state.attempts++
	factor := truncationFactor(state.attempts)
	l.logger.WarnContext(ctx, "context length exceeded", "attempt", state.attempts, "max", MaxTruncationAttempts, "estimate_factor", factor)

	_, span := l.tracer.TraceTruncation(ctx, state.attempts, factor)
	defer span.End()

	result, err := l.counter.TruncateToFit(agentctx.FitRequest{
		Messages:       state.history,
		System:         state.system,
		Tools:          state.tools,
		ContextLimit:   l.provider.ModelConfig().EffectiveContextLimit(),
		EstimateFactor: factor,
		Policy:         l.config.Truncation,
	})
	if err != nil {
		l.tracer.RecordError(span, err)
		l.logger.ErrorContext(ctx, "failed to truncate messages", "error", err)
		l.metrics.RecordTruncation("failed")
		terminal("truncation_exhausted", fmt.Sprintf(truncationFailedFormat, err), &LoopError{
			Phase:     PhaseTruncateAndRetry,
			Iteration: state.iteration,
			Cause:     err,
		})
		return false
	}

	l.tracer.SetAttributes(span, "truncation.removed", result.Removed, "truncation.tokens", result.Total)
	l.metrics.RecordTruncation("retried")
	state.history = result.Messages
	return true
}
