// ABOUTME: Tool contract for in-process capabilities the model can call by name
// ABOUTME: Defines descriptors, call results, function errors and a FuncTool adapter

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/schema"
)

// Descriptor is the public description of a tool offered to the model.
type Descriptor struct {
	Name        string
	Description string
	Parameters  schema.Descriptor
}

// Result is the outcome of a successful tool call.
type Result struct {
	Result      json.RawMessage
	Attachments []conversation.Attachment
}

// Tool is a capability the model can invoke.
type Tool interface {
	Descriptor() Descriptor
	Call(ctx context.Context, callID string, args json.RawMessage) (*Result, error)
}

// Handler executes a FuncTool.
type Handler func(ctx context.Context, callID string, args json.RawMessage) (*Result, error)

// FuncTool adapts a descriptor and a handler function to the Tool interface.
type FuncTool struct {
	Def     Descriptor
	Handler Handler
}

// Descriptor returns the tool descriptor.
func (f *FuncTool) Descriptor() Descriptor { return f.Def }

// Call runs the handler.
func (f *FuncTool) Call(ctx context.Context, callID string, args json.RawMessage) (*Result, error) {
	return f.Handler(ctx, callID, args)
}

// Pack is a named group of tools registered together.
type Pack struct {
	ID    string
	Tools []Tool
}

// FunctionErrorKind classifies tool failures.
type FunctionErrorKind int

const (
	// Serialization means arguments or results could not be encoded or decoded.
	Serialization FunctionErrorKind = iota
	// External means a dependency of the tool failed.
	External
)

func (k FunctionErrorKind) String() string {
	switch k {
	case Serialization:
		return "serialization"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// FunctionError is returned by tools and by the router when a call fails.
type FunctionError struct {
	Kind FunctionErrorKind
	Tool string
	Err  error
}

func (e *FunctionError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("function %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("function %s: %s error: %v", e.Tool, e.Kind, e.Err)
}

func (e *FunctionError) Unwrap() error { return e.Err }

// SerializationError wraps err as a serialization failure.
func SerializationError(err error) error {
	return &FunctionError{Kind: Serialization, Err: err}
}

// ExternalError wraps err as an external dependency failure.
func ExternalError(err error) error {
	return &FunctionError{Kind: External, Err: err}
}

// DecodeArgs unmarshals tool arguments into v, reporting a serialization error.
// Empty arguments decode as an empty object.
func DecodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return SerializationError(fmt.Errorf("decoding arguments: %w", err))
	}
	return nil
}

// JSONResult marshals v into a Result with optional attachments.
func JSONResult(v any, attachments ...conversation.Attachment) (*Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, SerializationError(fmt.Errorf("encoding result: %w", err))
	}
	return &Result{Result: data, Attachments: attachments}, nil
}

// asFunctionError returns err as a *FunctionError attributed to tool.
func asFunctionError(tool string, err error) *FunctionError {
	var fe *FunctionError
	if errors.As(err, &fe) {
		out := *fe
		if out.Tool == "" {
			out.Tool = tool
		}
		return &out
	}
	return &FunctionError{Kind: External, Tool: tool, Err: err}
}
