package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// GrokProvider adapts the canonical Request/Response shape onto an
// OpenAI-compatible chat-completions endpoint via
// github.com/sashabaranov/go-openai, pointed at a custom BaseURL.
type GrokProvider struct {
	client       *openai.Client
	defaultModel string
	retry        retryConfig
}

// NewGrokProvider builds a provider from an API key, base URL, and default
// model. baseURL points the client at the OpenAI-compatible Grok endpoint;
// an empty baseURL leaves go-openai's default (OpenAI) endpoint in place.
func NewGrokProvider(apiKey, baseURL, defaultModel string) *GrokProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GrokProvider{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		retry:        defaultRetryConfig(),
	}
}

// Send issues one ChatCompletion call, retrying on rate-limit/server errors.
func (p *GrokProvider) Send(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := encodeGrokMessages(req.System, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("grok: %w", err)
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = encodeGrokTools(req.Tools)
	}

	return withRetry(ctx, p.retry, isGrokRetryable, func() (*Response, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, fmt.Errorf("grok chat completion: %w", err)
		}
		return translateGrokResponse(resp)
	})
}

func encodeGrokMessages(system string, msgs []Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.ContentString()})
		case "user":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.ContentString()})
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.ContentString()}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, msg)
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ContentString(),
				ToolCallID: m.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeGrokTools(defs []ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		var params any
		if len(def.Function.Parameters) > 0 {
			_ = json.Unmarshal(def.Function.Parameters, &params)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Function.Name,
				Description: def.Function.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func translateGrokResponse(resp openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("grok: response has no choices")
	}
	choice := resp.Choices[0]

	var content *string
	if choice.Message.Content != "" || len(choice.Message.ToolCalls) == 0 {
		c := choice.Message.Content
		content = &c
	}

	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	usage := wireUsagePromptCompletion{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}.toUsage()

	return &Response{
		Message: Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		},
		FinishReason: normalizeOpenAIFinishReason(string(choice.FinishReason)),
		Usage:        usage,
	}, nil
}

func isGrokRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
