// ABOUTME: JSON encoding of conversations with type-tagged message variants
// ABOUTME: Used by storage backends to persist whole conversations as blobs

package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ErrUnknownType is returned when decoding a message or content with an unknown tag.
var ErrUnknownType = errors.New("unknown type tag")

type conversationJSON struct {
	ID       uuid.UUID         `json:"id"`
	Messages []json.RawMessage `json:"messages"`
}

// MarshalJSON encodes the conversation with tagged messages.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	out := conversationJSON{ID: c.id, Messages: make([]json.RawMessage, 0, len(c.messages))}
	for i, m := range c.messages {
		data, err := MarshalMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a conversation produced by MarshalJSON.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var in conversationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	msgs := make([]Message, 0, len(in.Messages))
	for i, raw := range in.Messages {
		m, err := UnmarshalMessage(raw)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	c.id = in.ID
	c.messages = msgs
	return nil
}

// MarshalMessage encodes a message as a JSON object with a "type" tag.
func MarshalMessage(m Message) ([]byte, error) {
	if u, ok := m.(UserMessage); ok {
		return marshalUser(u)
	}
	return marshalTagged(m.messageType(), m)
}

// UnmarshalMessage decodes a message produced by MarshalMessage.
func UnmarshalMessage(data []byte) (Message, error) {
	tag, err := readTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeSystem:
		var m SystemMessage
		err = json.Unmarshal(data, &m)
		return m, err
	case TypeUser:
		return unmarshalUser(data)
	case TypeFunctionCalls:
		var m FunctionCallsMessage
		err = json.Unmarshal(data, &m)
		return m, err
	case TypeFunctionResponse:
		var m FunctionResponseMessage
		err = json.Unmarshal(data, &m)
		return m, err
	case TypeAssistant:
		var m AssistantMessage
		err = json.Unmarshal(data, &m)
		return m, err
	default:
		return nil, fmt.Errorf("%w: message %q", ErrUnknownType, tag)
	}
}

type userJSON struct {
	Contents []json.RawMessage `json:"contents"`
	Name     string            `json:"name,omitempty"`
	Language string            `json:"language,omitempty"`
}

func marshalUser(u UserMessage) ([]byte, error) {
	out := userJSON{Name: u.Name, Language: u.Language, Contents: make([]json.RawMessage, 0, len(u.Contents))}
	for _, c := range u.Contents {
		data, err := marshalTagged(c.contentType(), c)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, data)
	}
	return marshalTagged(TypeUser, out)
}

func unmarshalUser(data []byte) (Message, error) {
	var in userJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	u := UserMessage{Name: in.Name, Language: in.Language}
	for _, raw := range in.Contents {
		tag, err := readTag(raw)
		if err != nil {
			return nil, err
		}
		switch tag {
		case "text":
			var c TextContent
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, err
			}
			u.Contents = append(u.Contents, c)
		case "image_url":
			var c ImageURLContent
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, err
			}
			u.Contents = append(u.Contents, c)
		default:
			return nil, fmt.Errorf("%w: content %q", ErrUnknownType, tag)
		}
	}
	return u, nil
}

// marshalTagged encodes v as an object and adds the "type" field.
func marshalTagged(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(strconv.Quote(tag))
	return json.Marshal(fields)
}

func readTag(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	if head.Type == "" {
		return "", fmt.Errorf("%w: missing", ErrUnknownType)
	}
	return head.Type, nil
}
