package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider adapts the canonical Request/Response shape onto the
// Anthropic Messages API via github.com/anthropics/anthropic-sdk-go.
type AnthropicProvider struct {
	msg          messagesClient
	defaultModel string
	maxTokens    int
	retry        retryConfig
}

// NewAnthropicProvider builds a provider from an API key and default model.
func NewAnthropicProvider(apiKey, defaultModel string, maxTokens int) *AnthropicProvider {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		msg:          &client.Messages,
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		retry:        defaultRetryConfig(),
	}
}

// Send issues one Messages.New call, retrying on rate-limit/server errors.
func (p *AnthropicProvider) Send(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	system := req.System
	for _, m := range req.Messages {
		if m.Role == "system" && m.ContentString() != "" {
			if system != "" {
				system += "\n\n"
			}
			system += m.ContentString()
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: sdk.Float(temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeAnthropicTools(req.Tools)
	}

	return withRetry(ctx, p.retry, isAnthropicRetryable, func() (*Response, error) {
		msg, err := p.msg.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("anthropic messages.new: %w", err)
		}
		return translateAnthropicResponse(msg)
	})
}

func encodeAnthropicMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var pendingToolResults []sdk.ContentBlockParamUnion

	flushToolResults := func() {
		if len(pendingToolResults) > 0 {
			out = append(out, sdk.NewUserMessage(pendingToolResults...))
			pendingToolResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue // joined with Request.System into the system field by Send
		case "tool":
			pendingToolResults = append(pendingToolResults,
				sdk.NewToolResultBlock(m.ToolCallID, m.ContentString(), false))
		case "user":
			flushToolResults()
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.ContentString())))
		case "assistant":
			flushToolResults()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if text := m.ContentString(); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	flushToolResults()

	if len(out) == 0 {
		return nil, errors.New("at least one user or assistant message is required")
	}
	return out, nil
}

func encodeAnthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if len(def.Function.Parameters) > 0 {
			_ = json.Unmarshal(def.Function.Parameters, &schemaMap)
		}
		schema := sdk.ToolInputSchemaParam{ExtraFields: schemaMap}
		u := sdk.ToolUnionParamOfTool(schema, def.Function.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Function.Description)
		}
		tools = append(tools, u)
	}
	return tools
}

func translateAnthropicResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: nil response")
	}
	var text strings.Builder
	var toolCalls []ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}

	var content *string
	if s := text.String(); s != "" || len(toolCalls) == 0 {
		content = &s
	}

	usage := wireUsageInputOutput{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}.toUsage()

	return &Response{
		Message: Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		},
		FinishReason: normalizeAnthropicStopReason(string(msg.StopReason)),
		Usage:        usage,
	}, nil
}

func isAnthropicRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
