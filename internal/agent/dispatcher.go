package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/tools/policy"
	"github.com/haasonsaas/conductor/pkg/models"
)

const (
	// DeclinedResponse is returned to the model for every denied tool request.
	DeclinedResponse = "The user has declined to run this tool. DO NOT attempt to call this tool again. " +
		"If there are no alternative methods to proceed, clearly explain the situation and STOP."

	// ChatModeResponse is returned for tool requests made while tools are disabled.
	ChatModeResponse = "Tool use is disabled in chat mode. The tool call was skipped. " +
		"Let the user know and answer without calling tools."

	// ConfirmationPrompt is shown with every tool confirmation request.
	ConfirmationPrompt = "The assistant would like to call the above tool. Allow? (y/n):"
)

// Emitter hands a message to the caller. It blocks until the message is
// accepted or ctx is done.
type Emitter func(ctx context.Context, msg *models.Message) error

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Extensions runs tools and installs extensions. Required.
	Extensions ExtensionManager

	// Catalog resolves extension configs for enable and search requests.
	Catalog ExtensionCatalog

	// Permissions persists always-allow decisions and feeds the judge.
	// Defaults to an in-memory manager.
	Permissions *policy.Manager

	// Detector backs smart_approve. Nil disables detection.
	Detector policy.ReadOnlyDetector

	// Router correlates confirmations and frontend results. Defaults to a new router.
	Router *ConfirmationRouter

	// Executor bounds concurrent tool execution. Defaults to unbounded.
	Executor *ExecutorConfig

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Dispatcher turns the categorized tool requests of one model response into a
// single tool response message.
type Dispatcher struct {
	extensions  ExtensionManager
	catalog     ExtensionCatalog
	permissions *policy.Manager
	judge       *policy.Judge
	router      *ConfirmationRouter
	executor    *Executor
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewDispatcher creates a dispatcher from opts.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	permissions := opts.Permissions
	if permissions == nil {
		permissions = policy.NewManager(nil, logger)
	}
	router := opts.Router
	if router == nil {
		router = NewConfirmationRouter()
	}
	executor := NewExecutor(opts.Extensions, opts.Executor)
	executor.tracer = opts.Tracer
	executor.recorder = opts.Metrics

	return &Dispatcher{
		extensions:  opts.Extensions,
		catalog:     opts.Catalog,
		permissions: permissions,
		judge:       policy.NewJudge(permissions, opts.Detector, logger),
		router:      router,
		executor:    executor,
		logger:      logger.With("component", "dispatcher"),
		metrics:     opts.Metrics,
	}
}

// Router returns the router callers use to answer confirmations.
func (d *Dispatcher) Router() *ConfirmationRouter {
	return d.router
}

// DispatchInput is one response's worth of tool requests.
type DispatchInput struct {
	Categorized *Categorized

	// Tools is the tool list the model was offered. It supplies annotations
	// and input schemas.
	Tools []models.Tool

	Mode policy.TrustMode

	// Emit delivers confirmation and frontend requests to the caller.
	Emit Emitter
}

// DispatchResult is the merged outcome of a dispatch.
type DispatchResult struct {
	// Response is a user message holding one tool response per request id.
	Response *models.Message

	// ExtensionsChanged reports that an extension was installed, so the tool
	// list and system prompt must be rebuilt.
	ExtensionsChanged bool
}

type outcome struct {
	content []models.Content
	err     *models.ToolError
}

type outcomes struct {
	mu   sync.Mutex
	byID map[string]outcome
}

func (o *outcomes) set(id string, content []models.Content, err *models.ToolError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.byID[id]; exists {
		return
	}
	o.byID[id] = outcome{content: content, err: err}
}

func (o *outcomes) text(id, text string) {
	o.set(id, []models.Content{models.TextContent(text)}, nil)
}

func (o *outcomes) fail(id string, err *models.ToolError) {
	o.set(id, nil, err)
}

// Dispatch runs every request in in.Categorized. Tool failures become error
// responses; the only error returned is cancellation of ctx while waiting on
// the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) (*DispatchResult, error) {
	cat := in.Categorized
	res := &outcomes{byID: make(map[string]outcome)}
	result := &DispatchResult{}

	var registered []string
	defer func() {
		for _, id := range registered {
			d.router.decisions.release(id)
			d.router.results.release(id)
		}
	}()

	frontend := make([]handle[FrontendResult], 0, len(cat.Frontend))
	for _, req := range cat.Frontend {
		call, _ := req.Call()
		ch, err := d.router.results.register(req.ID)
		if err != nil {
			res.fail(req.ID, models.NewToolError(models.ToolErrorExecution, "%v", err))
			continue
		}
		registered = append(registered, req.ID)
		msg := models.NewAssistantMessage().WithFrontendToolRequest(req.ID, call)
		if err := in.Emit(ctx, msg); err != nil {
			return nil, err
		}
		frontend = append(frontend, handle[FrontendResult]{id: req.ID, ch: ch})
	}

	for _, req := range cat.Platform {
		d.platform(ctx, req, res)
	}
	for _, req := range cat.SearchExtension {
		d.searchExtensions(req, res)
	}
	for _, req := range cat.EnableExtension {
		changed, err := d.enableExtension(ctx, req, in, res, &registered)
		if err != nil {
			return nil, err
		}
		result.ExtensionsChanged = result.ExtensionsChanged || changed
	}

	if err := d.dispatchStandard(ctx, in, res, &registered); err != nil {
		return nil, err
	}

	for _, h := range frontend {
		fr, err := d.router.results.await(ctx, h.id, h.ch)
		if err != nil {
			return nil, err
		}
		res.set(h.id, fr.Content, fr.Error)
	}

	result.Response = assemble(cat.order, res)
	return result, nil
}

type handle[T any] struct {
	id  string
	req models.ToolRequest
	ch  <-chan T
}

func (d *Dispatcher) dispatchStandard(ctx context.Context, in DispatchInput, res *outcomes, registered *[]string) error {
	requests := in.Categorized.Standard
	if len(requests) == 0 {
		return nil
	}

	if in.Mode == policy.ModeChat {
		for _, req := range requests {
			res.text(req.ID, ChatModeResponse)
		}
		return nil
	}

	index := make(map[string]models.Tool, len(in.Tools))
	readOnly := policy.NameSet{}
	unannotated := policy.NameSet{}
	for _, tool := range in.Tools {
		index[tool.Name] = tool
		switch {
		case tool.Annotations == nil:
			unannotated.Add(tool.Name)
		case tool.Annotations.ReadOnlyHint:
			readOnly.Add(tool.Name)
		}
	}

	valid := make([]models.ToolRequest, 0, len(requests))
	for _, req := range requests {
		call, err := req.Call()
		if err != nil {
			res.fail(req.ID, asToolError(err))
			continue
		}
		tool, ok := index[call.Name]
		if !ok {
			res.fail(req.ID, models.NewToolError(models.ToolErrorNotFound, "%s", call.Name))
			continue
		}
		if toolErr := validateArguments(tool, call.Arguments); toolErr != nil {
			res.fail(req.ID, toolErr)
			continue
		}
		valid = append(valid, req)
	}

	judgement := d.judge.Check(ctx, policy.JudgeInput{
		Requests:    valid,
		ReadOnly:    readOnly,
		Unannotated: unannotated,
		Mode:        in.Mode,
	})
	d.metrics.RecordPermission("approved", len(judgement.Approved))
	d.metrics.RecordPermission("denied", len(judgement.Denied))
	d.metrics.RecordPermission("needs_confirmation", len(judgement.NeedsConfirmation))

	for _, req := range judgement.Denied {
		res.text(req.ID, DeclinedResponse)
	}

	var wg sync.WaitGroup
	run := func(reqs []models.ToolRequest) {
		if len(reqs) == 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range d.executor.ExecuteAll(ctx, reqs) {
				res.set(r.RequestID, r.Content, r.Error)
			}
		}()
	}
	defer wg.Wait()

	run(judgement.Approved)

	pending := make([]handle[models.Permission], 0, len(judgement.NeedsConfirmation))
	for _, req := range judgement.NeedsConfirmation {
		call, _ := req.Call()
		ch, err := d.router.decisions.register(req.ID)
		if err != nil {
			res.fail(req.ID, models.NewToolError(models.ToolErrorExecution, "%v", err))
			continue
		}
		*registered = append(*registered, req.ID)
		msg := models.NewAssistantMessage().
			WithToolConfirmationRequest(req.ID, call.Name, call.Arguments, ConfirmationPrompt)
		if err := in.Emit(ctx, msg); err != nil {
			return err
		}
		pending = append(pending, handle[models.Permission]{id: req.ID, req: req, ch: ch})
	}

	for _, h := range pending {
		permission, err := d.router.decisions.await(ctx, h.id, h.ch)
		if err != nil {
			return err
		}
		d.metrics.RecordPermission(string(permission), 1)
		switch permission {
		case models.PermissionAlwaysAllow:
			name := h.req.Name()
			if err := d.permissions.Set(ctx, name, models.PermissionLevelAlwaysAllow); err != nil {
				d.logger.Warn("failed to persist permission", "tool", name, "error", err)
			}
			run([]models.ToolRequest{h.req})
		case models.PermissionAllowOnce:
			run([]models.ToolRequest{h.req})
		default:
			res.text(h.id, DeclinedResponse)
		}
	}
	return nil
}

// confirm emits a confirmation request and waits for the answer.
func (d *Dispatcher) confirm(ctx context.Context, in DispatchInput, id, toolName string, args json.RawMessage, prompt string, registered *[]string) (models.Permission, error) {
	ch, err := d.router.decisions.register(id)
	if err != nil {
		return models.PermissionDeny, nil
	}
	*registered = append(*registered, id)
	msg := models.NewAssistantMessage().WithToolConfirmationRequest(id, toolName, args, prompt)
	if err := in.Emit(ctx, msg); err != nil {
		return "", err
	}
	permission, err := d.router.decisions.await(ctx, id, ch)
	if err != nil {
		return "", err
	}
	d.metrics.RecordPermission(string(permission), 1)
	return permission, nil
}

func (d *Dispatcher) enableExtension(ctx context.Context, req models.ToolRequest, in DispatchInput, res *outcomes, registered *[]string) (bool, error) {
	call, _ := req.Call()
	var args struct {
		ExtensionName string `json:"extension_name"`
	}
	if err := json.Unmarshal(orEmptyObject(call.Arguments), &args); err != nil || strings.TrimSpace(args.ExtensionName) == "" {
		res.fail(req.ID, models.NewToolError(models.ToolErrorInvalidParameters, "extension_name is required"))
		return false, nil
	}
	name := strings.TrimSpace(args.ExtensionName)

	if in.Mode == policy.ModeChat {
		res.text(req.ID, ChatModeResponse)
		return false, nil
	}
	if d.catalog == nil {
		res.fail(req.ID, models.NewToolError(models.ToolErrorNotFound, "extension %s is not configured", name))
		return false, nil
	}
	cfg, ok := d.catalog.Get(name)
	if !ok {
		res.fail(req.ID, models.NewToolError(models.ToolErrorNotFound, "extension %s is not configured", name))
		return false, nil
	}

	if in.Mode != policy.ModeAuto {
		prompt := fmt.Sprintf("The assistant would like to enable the %s extension. Allow? (y/n):", cfg.Name)
		permission, err := d.confirm(ctx, in, req.ID, call.Name, call.Arguments, prompt, registered)
		if err != nil {
			return false, err
		}
		if !permission.Allows() {
			res.text(req.ID, DeclinedResponse)
			return false, nil
		}
	}

	if err := d.extensions.AddExtension(ctx, cfg); err != nil {
		d.logger.Warn("failed to enable extension", "extension", cfg.Name, "error", err)
		d.metrics.RecordError("extension", "install_failed")
		res.fail(req.ID, models.NewToolError(models.ToolErrorExecution, "failed to enable extension %s: %v", cfg.Name, err))
		return false, nil
	}
	d.logger.Info("extension enabled", "extension", cfg.Name)
	res.text(req.ID, fmt.Sprintf("The extension '%s' has been installed successfully", cfg.Name))
	return true, nil
}

func (d *Dispatcher) searchExtensions(req models.ToolRequest, res *outcomes) {
	call, _ := req.Call()
	var args struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal(orEmptyObject(call.Arguments), &args)

	var active []string
	for _, info := range d.extensions.ExtensionsInfo() {
		active = append(active, info.Name)
	}

	var available []string
	if d.catalog != nil {
		for _, cfg := range d.catalog.Search(active, args.Query) {
			line := "- " + cfg.Name
			if cfg.Description != "" {
				line += ": " + cfg.Description
			}
			available = append(available, line)
		}
	}
	if len(available) == 0 {
		res.text(req.ID, "No additional extensions are available to enable.")
		return
	}
	res.text(req.ID, "Extensions available to enable:\n"+strings.Join(available, "\n"))
}

func (d *Dispatcher) platform(ctx context.Context, req models.ToolRequest, res *outcomes) {
	call, _ := req.Call()
	var args struct {
		URI           string `json:"uri"`
		ExtensionName string `json:"extension_name"`
	}
	if err := json.Unmarshal(orEmptyObject(call.Arguments), &args); err != nil {
		res.fail(req.ID, models.NewToolError(models.ToolErrorInvalidParameters, "%v", err))
		return
	}

	switch call.Name {
	case ToolReadResource:
		if args.URI == "" {
			res.fail(req.ID, models.NewToolError(models.ToolErrorInvalidParameters, "uri is required"))
			return
		}
		content, err := d.extensions.ReadResource(ctx, args.URI, args.ExtensionName)
		if err != nil {
			res.fail(req.ID, models.NewToolError(models.ToolErrorExecution, "%v", err))
			return
		}
		res.set(req.ID, content, nil)
	case ToolListResources:
		content, err := d.extensions.ListResources(ctx, args.ExtensionName)
		if err != nil {
			res.fail(req.ID, models.NewToolError(models.ToolErrorExecution, "%v", err))
			return
		}
		res.set(req.ID, content, nil)
	default:
		res.fail(req.ID, models.NewToolError(models.ToolErrorNotFound, "%s", call.Name))
	}
}

// assemble builds the tool response message, one response per distinct id.
func assemble(order []string, res *outcomes) *models.Message {
	msg := models.NewUserMessage()
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out, ok := res.byID[id]
		if !ok {
			out = outcome{err: models.NewToolError(models.ToolErrorExecution, "no result was produced")}
		}
		msg.WithToolResponse(id, out.content, out.err)
	}
	return msg
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
