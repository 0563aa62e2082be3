// ABOUTME: Message variants of a conversation: system, user, function calls/responses, assistant
// ABOUTME: Also defines user content parts and side-channel attachments produced by tools

package conversation

import "encoding/json"

// Message type tags used in serialized conversations.
const (
	TypeSystem           = "system"
	TypeUser             = "user"
	TypeFunctionCalls    = "function_calls"
	TypeFunctionResponse = "function_response"
	TypeAssistant        = "assistant"
)

// Message is one entry of a conversation. The set of implementations is closed.
type Message interface {
	messageType() string
}

// SystemMessage carries the assistant's instructions.
type SystemMessage struct {
	Text string `json:"text"`
}

// UserMessage is a message written by a person. Name and Language are optional.
type UserMessage struct {
	Contents []UserContent `json:"-"`
	Name     string        `json:"name,omitempty"`
	Language string        `json:"language,omitempty"`
}

// FunctionCall is a single tool invocation requested by the model.
type FunctionCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// FunctionCallsMessage records every call the model requested in one turn, in order.
type FunctionCallsMessage struct {
	Calls []FunctionCall `json:"calls"`
}

// FunctionResponseMessage is the result of the call with the same ID.
type FunctionResponseMessage struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// AssistantMessage is the final reply of a turn.
type AssistantMessage struct {
	Text        string `json:"text"`
	IsSensitive bool   `json:"is_sensitive"`
	Language    string `json:"language,omitempty"`
}

func (SystemMessage) messageType() string           { return TypeSystem }
func (UserMessage) messageType() string             { return TypeUser }
func (FunctionCallsMessage) messageType() string    { return TypeFunctionCalls }
func (FunctionResponseMessage) messageType() string { return TypeFunctionResponse }
func (AssistantMessage) messageType() string        { return TypeAssistant }

// UserContent is one part of a user message. The set of implementations is closed.
type UserContent interface {
	contentType() string
}

// TextContent is plain text written by the user.
type TextContent struct {
	Text string `json:"text"`
}

// ImageURLContent references an image the user attached.
type ImageURLContent struct {
	URL string `json:"url"`
}

func (TextContent) contentType() string     { return "text" }
func (ImageURLContent) contentType() string { return "image_url" }

// NewUserText builds a user message with a single text part.
func NewUserText(text string) UserMessage {
	return UserMessage{Contents: []UserContent{TextContent{Text: text}}}
}

// Text joins every text part of the message with newlines.
func (m UserMessage) Text() string {
	var out string
	for _, c := range m.Contents {
		if t, ok := c.(TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// Attachment is side-channel output of a tool, such as a generated image.
// Attachments are handed to platform adapters and never stored in messages.
type Attachment interface {
	attachmentType() string
}

// ImageAttachment is an image available at URL.
type ImageAttachment struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

func (ImageAttachment) attachmentType() string { return "image" }

// cloneMessage returns a copy of m that shares no mutable state with it.
func cloneMessage(m Message) Message {
	switch v := m.(type) {
	case UserMessage:
		v.Contents = append([]UserContent(nil), v.Contents...)
		return v
	case FunctionCallsMessage:
		calls := make([]FunctionCall, len(v.Calls))
		for i, c := range v.Calls {
			c.Arguments = append(json.RawMessage(nil), c.Arguments...)
			calls[i] = c
		}
		v.Calls = calls
		return v
	case FunctionResponseMessage:
		v.Result = append(json.RawMessage(nil), v.Result...)
		return v
	default:
		return m
	}
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}
