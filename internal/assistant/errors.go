// ABOUTME: Engine error type attributing failures to the LLM, storage or tool layer
// ABOUTME: Also defines the protocol violation raised when a turn ends without a reply

package assistant

import (
	"errors"
	"fmt"
)

// ErrChatResponseExpected indicates the model finished a turn without a reply.
var ErrChatResponseExpected = errors.New("chat response expected")

// Layer identifies where an engine error originated.
type Layer int

const (
	LayerEngine Layer = iota
	LayerLLM
	LayerStorage
	LayerFunction
)

func (l Layer) String() string {
	switch l {
	case LayerEngine:
		return "engine"
	case LayerLLM:
		return "llm"
	case LayerStorage:
		return "storage"
	case LayerFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Error is returned by every engine and service operation.
// The wrapped error keeps its original type, so errors.As reaches
// *llm.Error, *store.Error and *packs.FunctionError.
type Error struct {
	Layer Layer
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Layer, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(layer Layer, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Layer: layer, Err: err}
}
