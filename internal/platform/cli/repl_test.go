// ABOUTME: Tests for the terminal chat loop with a fake processor
// ABOUTME: Covers replies, attachments, errors, /reset, /branch, /history and quitting

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assistant/internal/conversation"
)

type echoProcessor struct {
	created int
	seen    []conversation.UserMessage
	lens    []int
	fail    bool
	attach  []conversation.Attachment
}

func (e *echoProcessor) NewConversation() *conversation.Conversation {
	e.created++
	return conversation.New(&conversation.SystemMessage{Text: "sys"})
}

func (e *echoProcessor) Process(_ context.Context, conv *conversation.Conversation, user conversation.UserMessage) (*conversation.Update, error) {
	e.seen = append(e.seen, user)
	e.lens = append(e.lens, conv.Len())
	if e.fail {
		return nil, errors.New("model unavailable")
	}
	reply := conversation.AssistantMessage{Text: "echo: " + user.Text(), IsSensitive: strings.Contains(user.Text(), "spicy")}
	return conversation.Start(conv, user).Finish(reply, e.attach), nil
}

func runREPL(t *testing.T, proc *echoProcessor, input string) string {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	repl := New(Config{Engine: proc, In: strings.NewReader(input), Out: &out, UserName: "alice"})
	require.NoError(t, repl.Run(context.Background()))
	return out.String()
}

func TestREPLConversationGrows(t *testing.T) {
	proc := &echoProcessor{}
	out := runREPL(t, proc, "hello\n\nagain\n")

	assert.Contains(t, out, ">> echo: hello")
	assert.Contains(t, out, ">> echo: again")
	assert.Equal(t, []int{1, 3}, proc.lens)
	require.Len(t, proc.seen, 2)
	assert.Equal(t, "alice", proc.seen[0].Name)
}

func TestREPLShowsAttachmentsAndSensitivity(t *testing.T) {
	proc := &echoProcessor{attach: []conversation.Attachment{
		conversation.ImageAttachment{URL: "https://img.example/a.png", Description: "a cat"},
	}}
	out := runREPL(t, proc, "spicy cat\n")

	assert.Contains(t, out, "[sensitive]")
	assert.Contains(t, out, "[image] https://img.example/a.png a cat")
}

func TestREPLErrorKeepsConversation(t *testing.T) {
	proc := &echoProcessor{fail: true}
	out := runREPL(t, proc, "one\ntwo\n")

	assert.Contains(t, out, "[error] model unavailable")
	assert.Equal(t, []int{1, 1}, proc.lens)
}

func TestREPLReset(t *testing.T) {
	proc := &echoProcessor{}
	out := runREPL(t, proc, "hi\n/reset\nhi\n")

	assert.Contains(t, out, "Started a new conversation.")
	assert.Equal(t, 2, proc.created)
	assert.Equal(t, []int{1, 1}, proc.lens)
}

func TestREPLBranch(t *testing.T) {
	proc := &echoProcessor{}
	out := runREPL(t, proc, "a\nb\n/branch 3\nc\n/branch x\n/branch 99\n")

	assert.Contains(t, out, "with 3 messages.")
	assert.Equal(t, []int{1, 3, 3}, proc.lens)
	assert.Contains(t, out, "usage: /branch N")
	assert.Contains(t, out, "branch point out of range")
}

func TestREPLHistory(t *testing.T) {
	proc := &echoProcessor{}
	out := runREPL(t, proc, "hi\n/history\n")

	assert.Contains(t, out, "  0 system: sys")
	assert.Contains(t, out, "  1 user: hi")
	assert.Contains(t, out, "  2 assistant: echo: hi")
}

func TestREPLQuitStopsReading(t *testing.T) {
	proc := &echoProcessor{}
	runREPL(t, proc, "/quit\nnever\n")
	assert.Empty(t, proc.seen)
}

func TestREPLCancelledContext(t *testing.T) {
	color.NoColor = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := io.Pipe()
	defer pw.Close()
	repl := New(Config{Engine: &echoProcessor{}, In: pr, Out: &bytes.Buffer{}})
	assert.NoError(t, repl.Run(ctx))
}
