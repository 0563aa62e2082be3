// ABOUTME: OpenAI Responses API backend for the LLM port using openai-go
// ABOUTME: Converts conversations to input items, offers announced tools and decodes structured replies

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/packs"
	"github.com/2389/coven-assistant/internal/schema"
)

// Responses is an LLM backed by the OpenAI Responses API.
type Responses struct {
	client     openai.Client
	model      string
	maxTokens  int64
	structured bool
	format     responses.ResponseTextConfigParam
	logger     *slog.Logger
	tools      announced[responses.ToolUnionParam]
}

// NewResponses creates a Responses backend.
func NewResponses(cfg Config) (*Responses, error) {
	client, logger, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	r := &Responses{
		client:     client,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		structured: cfg.StructuredOutput,
		logger:     logger,
	}

	if r.structured {
		wire, err := schema.Wire(schema.AssistantResponse)
		if err != nil {
			return nil, fmt.Errorf("building response schema: %w", err)
		}
		r.format = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        schema.AssistantResponse.Name,
					Description: openai.String("response from assistant"),
					Schema:      wire,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	return r, nil
}

// AnnounceTool offers the tool as a strict function on later requests.
func (r *Responses) AnnounceTool(_ context.Context, d packs.Descriptor) {
	params, err := schema.Wire(d.Parameters)
	if err != nil {
		r.logger.Error("cannot offer tool", "tool_name", d.Name, "error", err)
		return
	}

	tool := responses.ToolParamOfFunction(d.Name, params, true)
	tool.OfFunction.Description = openai.String(d.Description)

	r.tools.set(d.Name, tool)

	r.logger.Debug("tool announced", "tool_name", d.Name)
}

// Send submits the conversation and decodes the model output.
func (r *Responses) Send(ctx context.Context, c *conversation.Incomplete) (*Update, error) {
	msgs := c.Messages()
	params := responses.ResponseNewParams{
		Model: r.model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: inputItems(msgs)},
		Tools: r.tools.sorted(),
	}
	if r.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(r.maxTokens)
	}
	if r.structured {
		params.Text = r.format
	}

	r.logger.Debug("→ sending conversation",
		"conversation_id", c.ID(),
		"message_count", len(msgs),
		"tool_count", len(params.Tools),
	)

	resp, err := r.client.Responses.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	update, err := r.decode(resp)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("← model responded",
		"conversation_id", c.ID(),
		"response_id", resp.ID,
		"tool_calls", len(update.ToolCalls),
		"has_response", update.Response != nil,
	)
	return update, nil
}

func (r *Responses) decode(resp *responses.Response) (*Update, error) {
	var calls []conversation.FunctionCall
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		fc := item.AsFunctionCall()
		args, err := callArguments(fc.Name, fc.Arguments)
		if err != nil {
			return nil, err
		}
		calls = append(calls, conversation.FunctionCall{ID: fc.CallID, Name: fc.Name, Arguments: args})
	}

	response, err := decodeReply(resp.OutputText(), r.structured)
	if err != nil {
		return nil, err
	}

	if response == nil && calls == nil {
		return nil, newError(NoChoice, ErrNoChoice)
	}
	return &Update{Response: response, ToolCalls: calls}, nil
}

func inputItems(msgs []conversation.Message) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case conversation.SystemMessage:
			items = append(items, textMessage(responses.EasyInputMessageRoleSystem, v.Text))
		case conversation.UserMessage:
			items = append(items, userMessage(v))
		case conversation.FunctionCallsMessage:
			for _, call := range v.Calls {
				items = append(items, responses.ResponseInputItemUnionParam{
					OfFunctionCall: &responses.ResponseFunctionToolCallParam{
						CallID:    call.ID,
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
		case conversation.FunctionResponseMessage:
			items = append(items, responses.ResponseInputItemUnionParam{
				OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
					CallID: v.ID,
					Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
						OfString: openai.String(string(v.Result)),
					},
				},
			})
		case conversation.AssistantMessage:
			items = append(items, textMessage(responses.EasyInputMessageRoleAssistant, v.Text))
		}
	}
	return items
}

func textMessage(role responses.EasyInputMessageRole, text string) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    role,
			Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(text)},
		},
	}
}

func userMessage(u conversation.UserMessage) responses.ResponseInputItemUnionParam {
	var parts responses.ResponseInputMessageContentListParam
	for _, c := range namedContents(u) {
		switch v := c.(type) {
		case conversation.TextContent:
			parts = append(parts, responses.ResponseInputContentParamOfInputText(v.Text))
		case conversation.ImageURLContent:
			parts = append(parts, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					ImageURL: openai.String(v.URL),
					Detail:   responses.ResponseInputImageDetailAuto,
				},
			})
		}
	}

	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    responses.EasyInputMessageRoleUser,
			Content: responses.EasyInputMessageContentUnionParam{OfInputItemContentList: parts},
		},
	}
}
