// Package llm is the boundary between the assistant and a language model.
//
// # Port
//
// The LLM interface has two operations:
//
//   - AnnounceTool: remember a tool descriptor so later requests offer it
//   - Send: submit the working history of a turn and get back either a
//     final response, a list of tool calls, or both
//
// A nil Update.ToolCalls means the model requested no tools. A nil
// Update.Response means it produced no final answer; the engine decides
// whether that is acceptable.
//
// # Errors
//
// Every failure is an *Error carrying a Kind:
//
//   - Communication: the request never completed (network, timeout)
//   - Backend: the provider answered with an error status
//   - NoChoice: the provider answered with nothing usable
//   - ResponseFormat: the reply could not be decoded
//
// Backends do not retry.
//
// # Responses backend
//
// Responses talks to the OpenAI Responses API through openai-go. With
// structured output enabled the model is asked for a JSON object shaped by
// schema.AssistantResponse, which carries the language and sensitivity of
// the reply alongside its text.
package llm
