// ABOUTME: Tests for the tagged JSON encoding of conversations
// ABOUTME: Covers every message variant and rejection of unknown tags

package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationJSONRoundTrip(t *testing.T) {
	c := Restore(New(nil).ID(), []Message{
		SystemMessage{Text: "sys"},
		UserMessage{
			Contents: []UserContent{TextContent{Text: "look"}, ImageURLContent{URL: "https://example.com/cat.png"}},
			Name:     "alice",
			Language: "en",
		},
		FunctionCallsMessage{Calls: []FunctionCall{{ID: "c1", Name: "get_time", Arguments: json.RawMessage(`{"tz":"UTC"}`)}}},
		FunctionResponseMessage{ID: "c1", Name: "get_time", Result: json.RawMessage(`{"now":"12:00"}`)},
		AssistantMessage{Text: "noon", IsSensitive: true, Language: "en"},
	})

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Conversation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, c.ID(), decoded.ID())
	assert.Equal(t, c.Messages(), decoded.Messages())
}

func TestMarshalMessageTags(t *testing.T) {
	data, err := MarshalMessage(AssistantMessage{Text: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"assistant","text":"x","is_sensitive":false}`, string(data))

	data, err = MarshalMessage(NewUserText("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user","contents":[{"type":"text","text":"hi"}]}`, string(data))
}

func TestUnmarshalMessageUnknownTag(t *testing.T) {
	_, err := UnmarshalMessage([]byte(`{"type":"tool"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = UnmarshalMessage([]byte(`{"text":"no tag"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = UnmarshalMessage([]byte(`{"type":"user","contents":[{"type":"video"}]}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}
