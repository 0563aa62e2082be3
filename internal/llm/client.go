// ABOUTME: Pieces shared by the OpenAI backends: client options, announced tools and reply decoding
// ABOUTME: Both the Responses and Chat Completions backends are built on these helpers

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/2389/coven-assistant/internal/conversation"
)

// Config configures an OpenAI backend.
type Config struct {
	Endpoint         string // empty uses the provider default
	Token            string
	Model            string
	MaxTokens        int64
	StructuredOutput bool
	Timeout          time.Duration
	UserAgent        string
	Logger           *slog.Logger
}

func newClient(cfg Config) (openai.Client, *slog.Logger, error) {
	if cfg.Model == "" {
		return openai.Client{}, nil, fmt.Errorf("model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Token),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithHeader("User-Agent", cfg.UserAgent))
	}

	return openai.NewClient(opts...), logger.With("component", "llm"), nil
}

// announced holds tool definitions keyed by name, listed in name order.
type announced[T any] struct {
	mu    sync.RWMutex
	tools map[string]T
}

func (a *announced[T]) set(name string, tool T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tools == nil {
		a.tools = make(map[string]T)
	}
	a.tools[name] = tool
}

func (a *announced[T]) sorted() []T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]T, 0, len(names))
	for _, name := range names {
		out = append(out, a.tools[name])
	}
	return out
}

// classify maps openai-go errors onto the LLM error kinds.
func classify(err error) *Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newError(Backend, err)
	}
	return newError(Communication, err)
}

// callArguments normalizes the JSON arguments of a requested call.
func callArguments(name, raw string) (json.RawMessage, error) {
	args := json.RawMessage(raw)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return nil, newError(ResponseFormat, fmt.Errorf("invalid arguments for %s", name))
	}
	return args, nil
}

// decodeReply turns model output text into a response; empty text means none.
func decodeReply(text string, structured bool) (*AssistantResponse, error) {
	if text == "" {
		return nil, nil
	}
	if !structured {
		return &AssistantResponse{Text: text}, nil
	}
	var ar AssistantResponse
	if err := json.Unmarshal([]byte(text), &ar); err != nil {
		return nil, newError(ResponseFormat, fmt.Errorf("decoding structured response: %w", err))
	}
	return &ar, nil
}

// namedContents prefixes the first text part with the sender's name.
func namedContents(u conversation.UserMessage) []conversation.UserContent {
	out := make([]conversation.UserContent, 0, len(u.Contents))
	named := u.Name == ""
	for _, c := range u.Contents {
		if t, ok := c.(conversation.TextContent); ok && !named {
			c = conversation.TextContent{Text: u.Name + ": " + t.Text}
			named = true
		}
		out = append(out, c)
	}
	return out
}
