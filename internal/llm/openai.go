package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	tellerotel "github.com/dativo-io/teller/internal/otel"
)

var tracer = tellerotel.Tracer("github.com/dativo-io/teller/internal/llm")

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI provider with the given API key and
// default model.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIProviderWithBaseURL creates an OpenAI provider with a custom base
// URL (e.g. for tests pointing at a mock server). baseURL should be the
// scheme+host without path; the client appends /v1 as needed.
func NewOpenAIProviderWithBaseURL(apiKey, model, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIProvider{client: openai.NewClientWithConfig(config), model: model}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate sends a chat completion request, binding the request's tools so
// the service may emit tool call requests restricted to that set.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			tellerotel.GenAISystem.String("openai"),
			tellerotel.GenAIRequestModel.String(model),
			tellerotel.GenAIRequestTemperature.Float64(req.Temperature),
			tellerotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutGenerate)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       toOpenAITools(req.Tools),
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("openai api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api call: %w", ErrNoChoices)
	}

	choice := resp.Choices[0]
	span.SetAttributes(
		tellerotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		tellerotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
		tellerotel.GenAIResponseFinishReason.String(string(choice.FinishReason)),
	)
	RecordUsageMetrics(ctx, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls),
	}, nil
}

// Classify invokes the model with no tools and temperature 0, returning the
// trimmed, lowercased single-line result. Used by the intent router; the
// caller is responsible for coercing unknown labels.
func (p *OpenAIProvider) Classify(ctx context.Context, system, utterance string) (string, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.classify",
		trace.WithAttributes(
			tellerotel.GenAISystem.String("openai"),
			tellerotel.GenAIRequestModel.String(p.model),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutClassify)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		MaxTokens:   20,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: utterance},
		},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("openai classification call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out[i] = m
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// fromOpenAIToolCalls converts provider tool calls, parsing the JSON
// argument payload. Malformed arguments yield an empty map rather than an
// error: the named tool still runs and reports missing arguments as
// conversational failure text.
func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		args := map[string]interface{}{}
		if c.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(c.Function.Arguments), &args)
		}
		out = append(out, ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: args,
		})
	}
	return out
}
