// ABOUTME: Tests for the turn state machine with a scripted model and in-process tools
// ABOUTME: Covers tool round-trips, unknown tools, failures, missing replies and sensitivity extraction

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/llm"
	"github.com/2389/coven-assistant/internal/packs"
	"github.com/2389/coven-assistant/internal/schema"
)

type scriptedStep struct {
	update *llm.Update
	err    error
}

// scriptedLLM replays canned updates and records what it was sent.
type scriptedLLM struct {
	mu        sync.Mutex
	steps     []scriptedStep
	sent      [][]conversation.Message
	announced []string
}

func (s *scriptedLLM) AnnounceTool(_ context.Context, d packs.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced = append(s.announced, d.Name)
}

func (s *scriptedLLM) Send(_ context.Context, c *conversation.Incomplete) (*llm.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c.Messages())
	if len(s.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.update, step.err
}

func reply(text string) scriptedStep {
	return scriptedStep{update: &llm.Update{Response: &llm.AssistantResponse{Text: text}}}
}

func toolCalls(calls ...conversation.FunctionCall) scriptedStep {
	return scriptedStep{update: &llm.Update{ToolCalls: calls}}
}

func call(id, name string) conversation.FunctionCall {
	return conversation.FunctionCall{ID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

func timeTool(result string, atts ...conversation.Attachment) packs.Tool {
	return &packs.FuncTool{
		Def: packs.Descriptor{Name: "get_time", Description: "current time", Parameters: schema.Object("params", "")},
		Handler: func(context.Context, string, json.RawMessage) (*packs.Result, error) {
			return &packs.Result{Result: json.RawMessage(result), Attachments: atts}, nil
		},
	}
}

func newTestEngine(t *testing.T, model *scriptedLLM, marker string) *Engine {
	t.Helper()
	return New(Config{LLM: model, SystemRole: "you are a bot", SensitiveMarker: marker})
}

func TestProcessWithoutTools(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{reply("hello")}}
	engine := newTestEngine(t, model, "")
	conv := engine.NewConversation()

	update, err := engine.Process(context.Background(), conv, conversation.NewUserText("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", update.AssistantMessage().Text)
	assert.Len(t, model.sent, 1)

	final, err := update.Finish()
	require.NoError(t, err)
	assert.Equal(t, conv.Len()+2, final.Len())
	assert.Equal(t, conv.ID(), final.ID())
}

func TestProcessToolRoundTrip(t *testing.T) {
	img := conversation.ImageAttachment{URL: "https://example.com/clock.png"}
	model := &scriptedLLM{steps: []scriptedStep{
		toolCalls(call("1", "get_time")),
		reply("It is noon"),
	}}
	engine := newTestEngine(t, model, "")
	engine.RegisterTool(context.Background(), timeTool(`{"time":"12:00"}`, img))
	assert.Equal(t, []string{"get_time"}, model.announced)

	conv := engine.NewConversation()
	update, err := engine.Process(context.Background(), conv, conversation.NewUserText("what time is it?"))
	require.NoError(t, err)
	assert.Equal(t, "It is noon", update.AssistantMessage().Text)
	assert.Equal(t, []conversation.Attachment{img}, update.Attachments())

	require.Len(t, model.sent, 2)
	second := model.sent[1]
	require.Len(t, second, 4)
	assert.IsType(t, conversation.FunctionCallsMessage{}, second[2])
	resp := second[3].(conversation.FunctionResponseMessage)
	assert.Equal(t, "1", resp.ID)
	assert.JSONEq(t, `{"time":"12:00"}`, string(resp.Result))

	final, err := update.Finish()
	require.NoError(t, err)
	msgs := final.Messages()
	require.Len(t, msgs, conv.Len()+1+2+1)
	assert.IsType(t, conversation.SystemMessage{}, msgs[0])
	assert.IsType(t, conversation.UserMessage{}, msgs[1])
	assert.IsType(t, conversation.FunctionCallsMessage{}, msgs[2])
	assert.IsType(t, conversation.FunctionResponseMessage{}, msgs[3])
	assert.Equal(t, conversation.AssistantMessage{Text: "It is noon"}, msgs[4])
	assert.NoError(t, final.Validate())
}

func TestProcessSkipsUnknownTool(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{
		toolCalls(call("1", "missing"), call("2", "get_time")),
		reply("done"),
	}}
	engine := newTestEngine(t, model, "")
	engine.RegisterTool(context.Background(), timeTool(`"noon"`))

	update, err := engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("hi"))
	require.NoError(t, err)
	assert.Equal(t, "done", update.AssistantMessage().Text)

	second := model.sent[1]
	calls := second[2].(conversation.FunctionCallsMessage)
	assert.Len(t, calls.Calls, 2)
	require.Len(t, second, 4)
	assert.Equal(t, "2", second[3].(conversation.FunctionResponseMessage).ID)
}

func TestProcessIgnoresSecondToolCalls(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{
		toolCalls(call("1", "get_time")),
		{update: &llm.Update{
			Response:  &llm.AssistantResponse{Text: "final"},
			ToolCalls: []conversation.FunctionCall{call("2", "get_time")},
		}},
	}}
	engine := newTestEngine(t, model, "")
	engine.RegisterTool(context.Background(), timeTool(`1`))

	update, err := engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("hi"))
	require.NoError(t, err)
	assert.Equal(t, "final", update.AssistantMessage().Text)
	assert.Len(t, model.sent, 2)
}

func TestProcessToolFailureAborts(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{toolCalls(call("1", "broken")), reply("unreachable")}}
	engine := newTestEngine(t, model, "")
	engine.RegisterTool(context.Background(), &packs.FuncTool{
		Def: packs.Descriptor{Name: "broken", Parameters: schema.Object("p", "")},
		Handler: func(context.Context, string, json.RawMessage) (*packs.Result, error) {
			return nil, packs.ExternalError(errors.New("upstream down"))
		},
	})
	conv := engine.NewConversation()

	_, err := engine.Process(context.Background(), conv, conversation.NewUserText("hi"))
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, LayerFunction, engErr.Layer)
	var fe *packs.FunctionError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, packs.External, fe.Kind)
	assert.Len(t, model.sent, 1)
	assert.Equal(t, 1, conv.Len())
}

func TestProcessLLMFailure(t *testing.T) {
	backendErr := &llm.Error{Kind: llm.Backend, Err: errors.New("500")}
	model := &scriptedLLM{steps: []scriptedStep{{err: backendErr}}}
	engine := newTestEngine(t, model, "")

	_, err := engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("hi"))
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, LayerLLM, engErr.Layer)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.Backend, llmErr.Kind)
}

func TestProcessMissingFinalResponse(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{
		toolCalls(call("1", "get_time")),
		{update: &llm.Update{}},
	}}
	engine := newTestEngine(t, model, "")
	engine.RegisterTool(context.Background(), timeTool(`1`))
	conv := engine.NewConversation()
	before := conv.Messages()

	update, err := engine.Process(context.Background(), conv, conversation.NewUserText("hi"))
	assert.Nil(t, update)
	assert.ErrorIs(t, err, ErrChatResponseExpected)
	assert.Equal(t, before, conv.Messages())
}

func TestProcessEmptyToolCallsStillSendsAgain(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{
		{update: &llm.Update{ToolCalls: []conversation.FunctionCall{}}},
		reply("second"),
	}}
	engine := newTestEngine(t, model, "")

	update, err := engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("hi"))
	require.NoError(t, err)
	assert.Len(t, model.sent, 2)
	assert.Equal(t, "second", update.AssistantMessage().Text)
}

func TestProcessNilUpdateIsNoChoice(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{{}}}
	engine := newTestEngine(t, model, "")

	update, err := engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("hi"))
	assert.Nil(t, update)
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, LayerLLM, engErr.Layer)
	assert.ErrorIs(t, err, llm.ErrNoChoice)
}

func TestProcessMarkerSensitivity(t *testing.T) {
	model := &scriptedLLM{steps: []scriptedStep{reply("[NSFW]spicy"), reply("tame")}}
	engine := newTestEngine(t, model, "[NSFW]")

	update, err := engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("a"))
	require.NoError(t, err)
	assert.Equal(t, conversation.AssistantMessage{Text: "spicy", IsSensitive: true}, update.AssistantMessage())

	update, err = engine.Process(context.Background(), engine.NewConversation(), conversation.NewUserText("b"))
	require.NoError(t, err)
	assert.Equal(t, conversation.AssistantMessage{Text: "tame"}, update.AssistantMessage())
}

func TestExtractSensitivity(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name          string
		resp          llm.AssistantResponse
		marker        string
		wantText      string
		wantSensitive bool
	}{
		{"marker stripped", llm.AssistantResponse{Text: "[NSFW]hello"}, "[NSFW]", "hello", true},
		{"no marker configured", llm.AssistantResponse{Text: "hello"}, "", "hello", false},
		{"marker absent from text", llm.AssistantResponse{Text: "hello"}, "[NSFW]", "hello", false},
		{"marker not at start", llm.AssistantResponse{Text: "hi [NSFW]"}, "[NSFW]", "hi [NSFW]", false},
		{"explicit true keeps marker", llm.AssistantResponse{Text: "[NSFW]hello", Sensitive: &yes}, "[NSFW]", "[NSFW]hello", true},
		{"explicit false keeps marker", llm.AssistantResponse{Text: "[NSFW]hello", Sensitive: &no}, "[NSFW]", "[NSFW]hello", false},
		{"explicit without marker config", llm.AssistantResponse{Text: "x", Sensitive: &yes}, "", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, sensitive := extractSensitivity(tt.resp, tt.marker)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantSensitive, sensitive)
		})
	}
}

func TestNewConversationWithoutSystemRole(t *testing.T) {
	engine := New(Config{LLM: &scriptedLLM{}})
	assert.Equal(t, 0, engine.NewConversation().Len())
	assert.Equal(t, 1, newTestEngine(t, &scriptedLLM{}, "").NewConversation().Len())
}

func TestRegisterToolTwiceKeepsOneEntry(t *testing.T) {
	model := &scriptedLLM{}
	engine := newTestEngine(t, model, "")
	engine.RegisterTool(context.Background(), timeTool(`1`))
	engine.RegisterTool(context.Background(), timeTool(`2`))

	assert.Len(t, engine.Tools(), 1)
	assert.Len(t, model.announced, 2)
}
