package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/mcp"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/tools/policy"
	"github.com/haasonsaas/conductor/pkg/models"
)

type chatOptions struct {
	configPath string
	mode       string
	model      string
}

// runChat wires the provider, extensions, permissions and observability into
// a reply loop and runs a session on the command's stdin and stdout.
func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, path, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.model != "" {
		cfg.Provider.Model = opts.model
	}
	var override policy.TrustMode
	if opts.mode != "" {
		override = policy.TrustMode(strings.ToLower(strings.TrimSpace(opts.mode)))
		if !override.Valid() {
			return fmt.Errorf("unknown trust mode %q", opts.mode)
		}
	}

	logger := newLogger(cfg, cmd.ErrOrStderr()).Slog()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	ctx = observability.AddSessionID(ctx, sessionID)

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	permissions, closeStore, err := openPermissions(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	manager := mcp.NewManager(logger)
	defer manager.Close()
	if err := manager.Start(ctx, catalog.Enabled()); err != nil {
		logger.Warn("some extensions failed to start", "error", err)
	}

	tracer, shutdownTracer := newTracer(cfg)
	defer shutdownTracer(context.Background())
	metrics, stopMetrics := startMetrics(cfg, logger)
	defer stopMetrics(context.Background())

	mode := cfg.TrustMode
	switch {
	case override != "":
		mode = func() policy.TrustMode { return override }
	case path != "":
		watcher := config.NewWatcher(path, cfg, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watch unavailable; trust mode changes need a restart", "error", err)
		} else {
			defer watcher.Close()
			mode = watcher.TrustMode
		}
	}

	loop, err := agent.NewReplyLoop(agent.LoopOptions{
		Provider:    provider,
		Extensions:  manager,
		Catalog:     catalog,
		Permissions: permissions,
		Mode:        mode,
		SessionID:   sessionID,
		Config: &agent.LoopConfig{
			MaxTurns:     cfg.Agent.MaxTurns,
			SystemPrompt: cfg.Agent.SystemPrompt,
			Instructions: cfg.Agent.Instructions,
			Executor: &agent.ExecutorConfig{
				MaxConcurrency: cfg.Agent.MaxConcurrency,
				DefaultTimeout: cfg.Agent.ToolTimeout,
			},
		},
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	session := newChatSession(loop, in, cmd.OutOrStdout(), isTerminal(in), logger)
	return session.run(ctx)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// replier is the part of agent.ReplyLoop a chat session drives.
type replier interface {
	Reply(ctx context.Context, history []*models.Message) (*agent.Turn, error)
	SubmitConfirmation(c models.PermissionConfirmation) error
	SubmitToolResult(requestID string, result agent.FrontendResult) error
}

// chatSession keeps the conversation history between replies and answers
// the loop's confirmation and frontend tool requests.
type chatSession struct {
	loop        replier
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	logger      *slog.Logger
	history     []*models.Message
}

func newChatSession(loop replier, in io.Reader, out io.Writer, interactive bool, logger *slog.Logger) *chatSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &chatSession{
		loop:        loop,
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		logger:      logger.With("component", "chat"),
	}
}

func (s *chatSession) run(ctx context.Context) error {
	for {
		if s.interactive {
			fmt.Fprint(s.out, "> ")
		}
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch line = strings.TrimSpace(line); line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := s.send(ctx, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// readLine returns the next line without its terminator. A final line
// without a newline is returned before io.EOF.
func (s *chatSession) readLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *chatSession) send(ctx context.Context, text string) error {
	s.history = append(s.history, models.NewUserMessage().WithText(text))
	turn, err := s.loop.Reply(ctx, s.history)
	if err != nil {
		return err
	}
	for msg := range turn.Messages() {
		s.render(msg)
	}
	err = turn.Wait()
	if history := turn.History(); len(history) > 0 {
		s.history = history
	}
	usage := turn.Usage()
	s.logger.Debug("reply finished",
		"turn_id", turn.ID,
		"outcome", turn.Outcome(),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens)

	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		// The loop has already emitted an explanation for the user.
		s.logger.Warn("reply ended with error", "error", err)
		return nil
	}
	return err
}

func (s *chatSession) render(msg *models.Message) {
	for _, c := range msg.Content {
		switch c.Type {
		case models.ContentTypeText:
			if msg.Role == models.RoleAssistant && c.Text != "" {
				fmt.Fprintln(s.out, c.Text)
			}
		case models.ContentTypeToolRequest:
			if req := c.ToolRequest; req != nil {
				if call, err := req.Call(); err == nil {
					fmt.Fprintf(s.out, "─── %s %s\n", call.Name, clip(string(call.Arguments), 200))
				}
			}
		case models.ContentTypeToolResponse:
			if resp := c.ToolResponse; resp != nil && resp.Error != nil {
				fmt.Fprintf(s.out, "    %s\n", resp.Error.Error())
			}
		case models.ContentTypeToolConfirmationRequest:
			if req := c.ToolConfirmationRequest; req != nil {
				s.confirm(req)
			}
		case models.ContentTypeFrontendToolRequest:
			if req := c.ToolRequest; req != nil {
				err := s.loop.SubmitToolResult(req.ID, agent.FrontendResult{
					Error: models.NewToolError(models.ToolErrorExecution, "frontend tools are not available in the terminal client"),
				})
				if err != nil {
					s.logger.Warn("failed to answer frontend tool request", "id", req.ID, "error", err)
				}
			}
		}
	}
}

func (s *chatSession) confirm(req *models.ToolConfirmationRequest) {
	permission := models.PermissionDeny
	if s.interactive {
		fmt.Fprintf(s.out, "─── %s %s\n%s [y]es, [a]lways, [n]o: ", req.ToolName, clip(string(req.Arguments), 200), req.Prompt)
		if line, err := s.readLine(); err == nil {
			permission = parseAnswer(line)
		}
	} else {
		fmt.Fprintf(s.out, "Denied %s: confirmation needs an interactive terminal\n", req.ToolName)
	}
	err := s.loop.SubmitConfirmation(models.PermissionConfirmation{RequestID: req.ID, Permission: permission})
	if err != nil {
		s.logger.Warn("failed to submit confirmation", "id", req.ID, "error", err)
	}
}

// parseAnswer maps a confirmation answer to a permission. Anything that is
// not an explicit yes is a denial.
func parseAnswer(answer string) models.Permission {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return models.PermissionAllowOnce
	case "a", "always":
		return models.PermissionAlwaysAllow
	default:
		return models.PermissionDeny
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
