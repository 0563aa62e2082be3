// ABOUTME: Language model port consumed by the assistant engine
// ABOUTME: Defines the send/announce contract, the model update shape and the LLM error taxonomy

package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/packs"
)

// ErrNoChoice indicates the model returned neither text nor tool calls.
var ErrNoChoice = errors.New("no choice returned")

// LLM is a language model backend.
type LLM interface {
	// AnnounceTool makes a tool available on subsequent requests.
	// Announcing the same name again replaces the earlier descriptor.
	AnnounceTool(ctx context.Context, d packs.Descriptor)

	// Send submits the working history of a turn.
	Send(ctx context.Context, c *conversation.Incomplete) (*Update, error)
}

// AssistantResponse is the reply produced by the model.
// Sensitive is nil when the model did not say.
type AssistantResponse struct {
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	Sensitive *bool  `json:"sensitive,omitempty"`
}

// Update is the outcome of one Send.
type Update struct {
	Response  *AssistantResponse
	ToolCalls []conversation.FunctionCall
}

// ErrorKind classifies LLM failures.
type ErrorKind int

const (
	Communication ErrorKind = iota
	Backend
	NoChoice
	ResponseFormat
)

func (k ErrorKind) String() string {
	switch k {
	case Communication:
		return "communication"
	case Backend:
		return "backend"
	case NoChoice:
		return "no choice"
	case ResponseFormat:
		return "response format"
	default:
		return "unknown"
	}
}

// Error is returned by LLM implementations.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
