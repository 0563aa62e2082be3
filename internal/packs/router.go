// ABOUTME: Routes function calls requested by the model to registered tools
// ABOUTME: Applies per-call timeouts and attributes failures to the tool that produced them

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/coven-assistant/internal/conversation"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Router dispatches function calls to the tools of a registry.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		registry: cfg.Registry,
		logger:   logger.With("component", "router"),
		timeout:  timeout,
	}
}

// Dispatch runs the call on the tool it names.
// Returns ErrToolNotFound when no such tool is registered, and a
// *FunctionError when the tool fails.
func (r *Router) Dispatch(ctx context.Context, call conversation.FunctionCall) (*Result, error) {
	tool, ok := r.registry.Lookup(call.Name)
	if !ok {
		r.logger.Debug("tool not found in registry",
			"tool_name", call.Name,
			"call_id", call.ID,
		)
		return nil, ErrToolNotFound
	}

	r.logger.Info("→ dispatching to tool",
		"tool_name", call.Name,
		"call_id", call.ID,
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Call(ctx, call.ID, call.Arguments)
	if err != nil {
		fe := asFunctionError(call.Name, err)
		r.logger.Warn("tool error",
			"tool_name", call.Name,
			"call_id", call.ID,
			"kind", fe.Kind.String(),
			"error", err,
		)
		return nil, fe
	}
	if result == nil {
		result = &Result{}
	}
	if len(result.Result) == 0 {
		result.Result = json.RawMessage("null")
	}

	r.logger.Info("← tool responded",
		"tool_name", call.Name,
		"call_id", call.ID,
		"attachments", len(result.Attachments),
		"duration", time.Since(start),
	)
	return result, nil
}

// Tools returns the descriptors of the routable tools.
func (r *Router) Tools() []Descriptor {
	return r.registry.Descriptors()
}
