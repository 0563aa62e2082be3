// ABOUTME: Conversation history, its in-progress working form, and the update produced by a turn
// ABOUTME: Conversations get time-ordered UUIDv7 ids and can be branched into new histories

package conversation

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrUpdateFinished is returned when Finish is called on an update more than once.
var ErrUpdateFinished = errors.New("conversation update already finished")

// ErrBranchOutOfRange is returned when a branch point is outside the history.
var ErrBranchOutOfRange = errors.New("branch point out of range")

// ErrOrphanFunctionResponse indicates a function response without a matching call.
var ErrOrphanFunctionResponse = errors.New("function response without matching call")

// Conversation is an append-only message history.
// It is not safe for concurrent mutation; callers serialize turns per conversation.
type Conversation struct {
	id       uuid.UUID
	messages []Message
}

// New creates a conversation with a fresh time-ordered id, seeded with
// the system message when one is given.
func New(system *SystemMessage) *Conversation {
	c := &Conversation{id: uuid.Must(uuid.NewV7())}
	if system != nil {
		c.messages = []Message{*system}
	}
	return c
}

// Restore rebuilds a conversation from stored parts.
func Restore(id uuid.UUID, messages []Message) *Conversation {
	return &Conversation{id: id, messages: cloneMessages(messages)}
}

// ID returns the conversation id.
func (c *Conversation) ID() uuid.UUID {
	return c.id
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	return cloneMessages(c.messages)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Branch creates a new conversation holding the first n messages of c.
func (c *Conversation) Branch(n int) (*Conversation, error) {
	if n < 0 || n > len(c.messages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBranchOutOfRange, n, len(c.messages))
	}
	return &Conversation{
		id:       uuid.Must(uuid.NewV7()),
		messages: cloneMessages(c.messages[:n]),
	}, nil
}

// Validate checks that every function response answers an earlier call.
func (c *Conversation) Validate() error {
	return validate(c.messages)
}

func validate(msgs []Message) error {
	calls := make(map[string]bool)
	for i, m := range msgs {
		switch v := m.(type) {
		case FunctionCallsMessage:
			for _, call := range v.Calls {
				calls[call.ID] = true
			}
		case FunctionResponseMessage:
			if !calls[v.ID] {
				return fmt.Errorf("%w: message %d, id %q", ErrOrphanFunctionResponse, i, v.ID)
			}
		}
	}
	return nil
}

// Incomplete is the working form of a conversation during one turn.
type Incomplete struct {
	id     uuid.UUID
	latest []Message
}

// Start begins a turn by appending the user message to a copy of the history.
// The given conversation is not modified.
func Start(c *Conversation, user UserMessage) *Incomplete {
	latest := make([]Message, 0, len(c.messages)+3)
	latest = append(latest, cloneMessages(c.messages)...)
	latest = append(latest, cloneMessage(user))
	return &Incomplete{id: c.id, latest: latest}
}

// ID returns the id of the conversation being continued.
func (ic *Incomplete) ID() uuid.UUID {
	return ic.id
}

// Messages returns a copy of the working history.
func (ic *Incomplete) Messages() []Message {
	return cloneMessages(ic.latest)
}

// Append adds messages to the working history.
func (ic *Incomplete) Append(msgs ...Message) {
	for _, m := range msgs {
		ic.latest = append(ic.latest, cloneMessage(m))
	}
}

// Finish closes the turn with the assistant's reply and any attachments.
// The incomplete conversation must not be used afterwards.
func (ic *Incomplete) Finish(reply AssistantMessage, attachments []Attachment) *Update {
	u := &Update{
		conversation: &Conversation{id: ic.id, messages: ic.latest},
		assistant:    reply,
		attachments:  append([]Attachment(nil), attachments...),
	}
	ic.latest = nil
	return u
}

// Update is the result of a turn: the history so far, the reply that has
// not been appended yet, and the attachments produced by tools.
type Update struct {
	conversation *Conversation
	assistant    AssistantMessage
	attachments  []Attachment
	finished     atomic.Bool
}

// ConversationID returns the id of the updated conversation.
func (u *Update) ConversationID() uuid.UUID {
	return u.conversation.id
}

// AssistantMessage returns the reply of the turn.
func (u *Update) AssistantMessage() AssistantMessage {
	return u.assistant
}

// Attachments returns the attachments produced during the turn.
func (u *Update) Attachments() []Attachment {
	return append([]Attachment(nil), u.attachments...)
}

// Finish appends the reply and returns the conversation to persist.
// It succeeds only once.
func (u *Update) Finish() (*Conversation, error) {
	if !u.finished.CompareAndSwap(false, true) {
		return nil, ErrUpdateFinished
	}
	c := u.conversation
	u.conversation = &Conversation{id: c.id}
	c.messages = append(c.messages, u.assistant)
	return c, nil
}
