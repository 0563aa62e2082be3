// ABOUTME: Orchestration engine driving one user turn through the model and registered tools
// ABOUTME: Performs at most one tool round-trip and extracts reply sensitivity from a marker prefix

package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/llm"
	"github.com/2389/coven-assistant/internal/packs"
)

// Config configures an Engine.
type Config struct {
	LLM             llm.LLM
	SystemRole      string
	SensitiveMarker string
	ToolTimeout     time.Duration
	Logger          *slog.Logger
}

// Engine turns a conversation and a user message into a reply.
// It is safe for concurrent use across different conversations.
type Engine struct {
	llm             llm.LLM
	registry        *packs.Registry
	router          *packs.Router
	systemRole      string
	sensitiveMarker string
	logger          *slog.Logger
}

// New creates an engine. Tools registered on it are announced to cfg.LLM.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := packs.NewRegistry(cfg.LLM, logger)

	return &Engine{
		llm:      cfg.LLM,
		registry: registry,
		router: packs.NewRouter(packs.RouterConfig{
			Registry: registry,
			Logger:   logger,
			Timeout:  cfg.ToolTimeout,
		}),
		systemRole:      cfg.SystemRole,
		sensitiveMarker: cfg.SensitiveMarker,
		logger:          logger.With("component", "engine"),
	}
}

// NewConversation starts a conversation seeded with the configured system role.
func (e *Engine) NewConversation() *conversation.Conversation {
	if e.systemRole == "" {
		return conversation.New(nil)
	}
	return conversation.New(&conversation.SystemMessage{Text: e.systemRole})
}

// RegisterTool makes a tool callable by the model.
func (e *Engine) RegisterTool(ctx context.Context, tool packs.Tool) {
	e.registry.Register(ctx, tool)
}

// RegisterPack registers every tool of a pack.
func (e *Engine) RegisterPack(ctx context.Context, pack *packs.Pack) {
	e.registry.RegisterPack(ctx, pack)
}

// Tools lists the registered tool descriptors.
func (e *Engine) Tools() []packs.Descriptor {
	return e.registry.Descriptors()
}

// Process runs one turn. The given conversation is not modified; the
// returned update holds the new history until Finish is called on it.
func (e *Engine) Process(ctx context.Context, conv *conversation.Conversation, user conversation.UserMessage) (*conversation.Update, error) {
	inc := conversation.Start(conv, user)
	logger := e.logger.With("conversation_id", conv.ID())

	first, err := e.send(ctx, inc)
	if err != nil {
		return nil, err
	}

	final := first
	var attachments []conversation.Attachment
	if first.ToolCalls != nil {
		responses, atts, err := e.runTools(ctx, logger, first.ToolCalls)
		if err != nil {
			return nil, err
		}

		inc.Append(conversation.FunctionCallsMessage{Calls: first.ToolCalls})
		for _, r := range responses {
			inc.Append(r)
		}
		attachments = atts

		second, err := e.send(ctx, inc)
		if err != nil {
			return nil, err
		}
		if len(second.ToolCalls) > 0 {
			logger.Warn("ignoring tool calls in final response", "tool_calls", len(second.ToolCalls))
		}
		final = second
	}

	if final.Response == nil {
		return nil, wrap(LayerEngine, ErrChatResponseExpected)
	}

	text, sensitive := extractSensitivity(*final.Response, e.sensitiveMarker)
	reply := conversation.AssistantMessage{
		Text:        text,
		IsSensitive: sensitive,
		Language:    final.Response.Language,
	}

	logger.Info("turn processed",
		"sensitive", sensitive,
		"attachments", len(attachments),
	)
	return inc.Finish(reply, attachments), nil
}

// send calls the model. A nil update counts as no choice.
func (e *Engine) send(ctx context.Context, inc *conversation.Incomplete) (*llm.Update, error) {
	update, err := e.llm.Send(ctx, inc)
	if err != nil {
		return nil, wrap(LayerLLM, err)
	}
	if update == nil {
		return nil, wrap(LayerLLM, &llm.Error{Kind: llm.NoChoice, Err: llm.ErrNoChoice})
	}
	return update, nil
}

// runTools dispatches calls in order. Unknown tools are skipped; any other
// failure aborts the turn.
func (e *Engine) runTools(ctx context.Context, logger *slog.Logger, calls []conversation.FunctionCall) ([]conversation.Message, []conversation.Attachment, error) {
	var responses []conversation.Message
	var attachments []conversation.Attachment

	for _, call := range calls {
		logger.Info("calling tool", "tool_name", call.Name, "call_id", call.ID)

		result, err := e.router.Dispatch(ctx, call)
		if errors.Is(err, packs.ErrToolNotFound) {
			logger.Warn("tool not found, skipping", "tool_name", call.Name, "call_id", call.ID)
			continue
		}
		if err != nil {
			return nil, nil, wrap(LayerFunction, err)
		}

		responses = append(responses, conversation.FunctionResponseMessage{
			ID:     call.ID,
			Name:   call.Name,
			Result: result.Result,
		})
		attachments = append(attachments, result.Attachments...)
	}
	return responses, attachments, nil
}

// extractSensitivity decides whether a reply is sensitive. An explicit flag
// from the model wins and keeps the text as is. Otherwise a configured
// marker prefix is stripped and marks the reply sensitive.
func extractSensitivity(r llm.AssistantResponse, marker string) (string, bool) {
	switch {
	case r.Sensitive != nil:
		return r.Text, *r.Sensitive
	case marker == "":
		return r.Text, false
	}
	if stripped, ok := strings.CutPrefix(r.Text, marker); ok {
		return stripped, true
	}
	return r.Text, false
}
