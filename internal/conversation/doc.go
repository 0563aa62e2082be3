// Package conversation defines the message history the assistant works on.
//
// # Messages
//
// Message is a closed set of variants:
//
//   - SystemMessage: the assistant's standing instructions
//   - UserMessage: ordered text and image contents from a person
//   - FunctionCallsMessage: the tool calls requested by the model in one turn
//   - FunctionResponseMessage: the result of one of those calls, matched by ID
//   - AssistantMessage: the final reply of a turn
//
// Messages are values. Once appended to a Conversation they are never
// modified, and every accessor hands out copies.
//
// # Lifecycle
//
// A turn moves through three types:
//
//	conv := conversation.New(&conversation.SystemMessage{Text: role})
//	inc := conversation.Start(conv, user)  // conv is left untouched
//	inc.Append(calls, response)            // tool round-trip, if any
//	update := inc.Finish(reply, attachments)
//	final, err := update.Finish()          // appends reply, once only
//
// Update.Finish can only succeed once; later calls return ErrUpdateFinished.
//
// # Serialization
//
// Conversations marshal to JSON with each message tagged by a "type" field,
// which is the blob format used by the storage backends:
//
//	{"id":"0190...","messages":[{"type":"system","text":"..."}, ...]}
package conversation
