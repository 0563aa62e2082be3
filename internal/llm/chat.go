// ABOUTME: OpenAI Chat Completions backend for the LLM port using openai-go
// ABOUTME: Maps function calls to assistant tool_calls and function results to tool messages

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/packs"
	"github.com/2389/coven-assistant/internal/schema"
)

// ChatCompletions is an LLM backed by the OpenAI Chat Completions API.
// It also works with most OpenAI-compatible servers.
type ChatCompletions struct {
	client     openai.Client
	model      string
	maxTokens  int64
	structured bool
	format     openai.ChatCompletionNewParamsResponseFormatUnion
	logger     *slog.Logger
	tools      announced[openai.ChatCompletionToolUnionParam]
}

// NewChatCompletions creates a Chat Completions backend.
func NewChatCompletions(cfg Config) (*ChatCompletions, error) {
	client, logger, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	c := &ChatCompletions{
		client:     client,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		structured: cfg.StructuredOutput,
		logger:     logger,
	}

	if c.structured {
		wire, err := schema.Wire(schema.AssistantResponse)
		if err != nil {
			return nil, fmt.Errorf("building response schema: %w", err)
		}
		c.format = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schema.AssistantResponse.Name,
					Description: openai.String("response from assistant"),
					Schema:      wire,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	return c, nil
}

// AnnounceTool offers the tool as a strict function on later requests.
func (c *ChatCompletions) AnnounceTool(_ context.Context, d packs.Descriptor) {
	params, err := schema.Wire(d.Parameters)
	if err != nil {
		c.logger.Error("cannot offer tool", "tool_name", d.Name, "error", err)
		return
	}

	c.tools.set(d.Name, openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(params),
				Strict:      openai.Bool(true),
			},
		},
	})
	c.logger.Debug("tool announced", "tool_name", d.Name)
}

// Send submits the conversation and decodes the first choice.
func (c *ChatCompletions) Send(ctx context.Context, ic *conversation.Incomplete) (*Update, error) {
	msgs := ic.Messages()
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: chatMessages(msgs),
		Tools:    c.tools.sorted(),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	if c.structured {
		params.ResponseFormat = c.format
	}

	c.logger.Debug("→ sending conversation",
		"conversation_id", ic.ID(),
		"message_count", len(msgs),
		"tool_count", len(params.Tools),
	)

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, newError(NoChoice, ErrNoChoice)
	}
	msg := completion.Choices[0].Message

	var calls []conversation.FunctionCall
	for _, tc := range msg.ToolCalls {
		if tc.Type != "function" {
			continue
		}
		args, err := callArguments(tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		calls = append(calls, conversation.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	response, err := decodeReply(msg.Content, c.structured)
	if err != nil {
		return nil, err
	}
	if response == nil && calls == nil {
		return nil, newError(NoChoice, ErrNoChoice)
	}

	c.logger.Debug("← model responded",
		"conversation_id", ic.ID(),
		"completion_id", completion.ID,
		"finish_reason", completion.Choices[0].FinishReason,
		"tool_calls", len(calls),
		"has_response", response != nil,
	)
	return &Update{Response: response, ToolCalls: calls}, nil
}

func chatMessages(msgs []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case conversation.SystemMessage:
			out = append(out, openai.SystemMessage(v.Text))
		case conversation.UserMessage:
			out = append(out, chatUserMessage(v))
		case conversation.FunctionCallsMessage:
			calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(v.Calls))
			for _, call := range v.Calls {
				calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls},
			})
		case conversation.FunctionResponseMessage:
			out = append(out, openai.ToolMessage(string(v.Result), v.ID))
		case conversation.AssistantMessage:
			out = append(out, openai.AssistantMessage(v.Text))
		}
	}
	return out
}

func chatUserMessage(u conversation.UserMessage) openai.ChatCompletionMessageParamUnion {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, c := range namedContents(u) {
		switch v := c.(type) {
		case conversation.TextContent:
			parts = append(parts, openai.TextContentPart(v.Text))
		case conversation.ImageURLContent:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    v.URL,
				Detail: "auto",
			}))
		}
	}
	return openai.UserMessage(parts)
}
