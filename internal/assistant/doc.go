// Package assistant orchestrates conversation turns.
//
// # Engine
//
// Engine.Process runs the turn state machine:
//
//	Start -> FirstTurn -> [ToolPhase] -> FinalTurn -> Done
//
// The first model response either answers directly or asks for tool calls.
// When it asks for tools, a FunctionCalls message and one FunctionResponse
// per dispatched call are appended and the model is asked once more; tool
// calls in that second response are ignored. Unknown tool names are
// skipped. Any other tool failure, and any model failure, aborts the turn.
// A turn that ends without a reply fails with ErrChatResponseExpected.
//
// # Sensitivity
//
// A reply is sensitive when the model says so. If it does not say, and a
// sensitive marker is configured, a reply starting with the marker is
// sensitive and the marker is removed:
//
//	marker "[NSFW]", text "[NSFW]hello"           -> "hello", sensitive
//	no marker, text "hello"                       -> "hello", not sensitive
//	explicit sensitive=true, text "[NSFW]hello"   -> "[NSFW]hello", sensitive
//
// # Service
//
// Service is what platform adapters use. A turn is two calls so that
// nothing is stored until the reply has actually been delivered:
//
//	update, err := svc.Turn(ctx, &assistant.TurnRequest{Platform: "matrix", Context: replyTo, User: msg})
//	// ... send update.AssistantMessage() and update.Attachments() ...
//	_, err = svc.Commit(ctx, update, "matrix", sentEventID)
//
// Callers must not run two turns for the same conversation at once; the
// adapters serialize per context key.
//
// # Errors
//
// Every error is an *Error naming the layer it came from. The original
// error stays in the chain:
//
//	var llmErr *llm.Error
//	if errors.As(err, &llmErr) && llmErr.Kind == llm.Backend { ... }
package assistant
