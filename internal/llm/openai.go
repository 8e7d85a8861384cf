package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

// OpenAICompat works with any OpenAI-compatible chat completions API
// (OpenAI, DeepSeek, OpenRouter, Groq and similar).
type OpenAICompat struct {
	settings Settings
	client   openai.Client
	policy   callPolicy
}

// NewOpenAICompat creates an adapter for an OpenAI-compatible vendor.
func NewOpenAICompat(s Settings) *OpenAICompat {
	baseURL := s.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
	)
	return &OpenAICompat{
		settings: s,
		client:   client,
		policy:   newCallPolicy(s),
	}
}

func (c *OpenAICompat) Name() string { return c.settings.Name }

func (c *OpenAICompat) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: promptMessages(req.System, req.Prompt),
	}
	completion, err := c.complete(ctx, req.Tier, params)
	if err != nil {
		return "", err
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAICompat) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	return generateJSON(ctx, c.settings.Name, req, func(ctx context.Context, prompt string, structured bool) (string, error) {
		params := openai.ChatCompletionNewParams{
			Messages: promptMessages(req.System, prompt),
		}
		if structured {
			params.ResponseFormat = c.responseFormat(req.Schema)
		}
		completion, err := c.complete(ctx, req.Tier, params)
		if err != nil {
			return "", err
		}
		return completion.Choices[0].Message.Content, nil
	})
}

func (c *OpenAICompat) responseFormat(schema map[string]any) openai.ChatCompletionNewParamsResponseFormatUnion {
	if c.settings.StructuredOutput && schema != nil {
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: schema,
				},
			},
		}
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
}

func (c *OpenAICompat) GenerateWithTools(ctx context.Context, req ToolRequest) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Messages: convertMessages(req.System, prefixPersonas(req.History)),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		if req.RequireTool {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: param.NewOpt("required"),
			}
		}
	}
	if req.WebSearch {
		slog.Debug("web search is not supported by this provider, ignoring", "provider", c.settings.Name)
	}

	completion, err := c.complete(ctx, req.Tier, params)
	if err != nil {
		return nil, err
	}

	choice := completion.Choices[0]
	res := &Result{
		Text: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, ok := parseArgs(c.settings.Name, tc.Function.Name, tc.Function.Arguments)
		if !ok {
			continue
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:   callID(tc.ID),
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return res, nil
}

func (c *OpenAICompat) complete(ctx context.Context, tier Tier, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	model, err := c.settings.model(tier)
	if err != nil {
		return nil, err
	}
	params.Model = model

	var completion *openai.ChatCompletion
	err = c.policy.do(ctx, func(ctx context.Context) error {
		var err error
		completion, err = c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return c.wrapErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", c.settings.Name, ErrNoChoices)
	}
	c.settings.observe(tier, Usage{
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	})
	return completion, nil
}

// GenerateTextStream streams a chat completion. The SSE decoder stops at the
// "data: [DONE]" sentinel.
func (c *OpenAICompat) GenerateTextStream(ctx context.Context, req StreamRequest) (Stream, error) {
	model, err := c.settings.model(req.Tier)
	if err != nil {
		return nil, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.System, prefixPersonas(req.History)),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var stream *ssestream.Stream[openai.ChatCompletionChunk]
	err = c.policy.streaming().do(streamCtx, func(ctx context.Context) error {
		stream = c.client.Chat.Completions.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			stream.Close()
			return c.wrapErr(err)
		}
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &openaiStream{stream: stream, cancel: cancel, wrap: c.wrapErr}, nil
}

func (c *OpenAICompat) wrapErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   c.settings.Name,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return transportError(c.settings.Name, err)
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc
	wrap   func(error) error
	cur    Chunk
}

func (s *openaiStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.cur = Chunk{Text: chunk.Choices[0].Delta.Content}
		return true
	}
	return false
}

func (s *openaiStream) Current() Chunk { return s.cur }

func (s *openaiStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *openaiStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

func promptMessages(system, prompt string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	return append(out, openai.UserMessage(prompt))
}

func convertMessages(system string, msgs []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleModel:
			if len(m.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: marshalArgs(tc.Args),
						},
					}
				}
				assistant := openai.ChatCompletionAssistantMessageParam{
					ToolCalls: toolCalls,
				}
				if m.Content != "" {
					assistant.Content.OfString = param.NewOpt(m.Content)
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &assistant,
				})
			} else {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func convertTools(tools []ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}
