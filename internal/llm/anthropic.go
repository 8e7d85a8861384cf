package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const anthropicMaxTokens = 4096

// Anthropic talks to the Messages API. Tool results travel inside user turns
// as tool_result blocks rather than under a separate role.
type Anthropic struct {
	settings Settings
	client   anthropic.Client
	policy   callPolicy
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(s Settings) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &Anthropic{
		settings: s,
		client:   anthropic.NewClient(opts...),
		policy:   newCallPolicy(s),
	}
}

func (a *Anthropic) Name() string { return a.settings.Name }

func (a *Anthropic) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	msg, err := a.create(ctx, req.Tier, anthropic.MessageNewParams{
		Messages: []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		System:   systemBlocks(req.System),
	})
	if err != nil {
		return "", err
	}
	text, _ := a.normalize(msg)
	return text, nil
}

// GenerateJSON has no native JSON mode to lean on, so the structured attempt
// carries the schema in the prompt.
func (a *Anthropic) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	return generateJSON(ctx, a.settings.Name, req, func(ctx context.Context, prompt string, structured bool) (string, error) {
		if structured && req.Schema != nil {
			if schema, err := json.Marshal(req.Schema); err == nil {
				prompt = fmt.Sprintf("%s\n\nAnswer with a JSON value matching this schema:\n%s", prompt, schema)
			}
		}
		msg, err := a.create(ctx, req.Tier, anthropic.MessageNewParams{
			Messages: []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
			System:   systemBlocks(req.System),
		})
		if err != nil {
			return "", err
		}
		text, _ := a.normalize(msg)
		return text, nil
	})
}

func (a *Anthropic) GenerateWithTools(ctx context.Context, req ToolRequest) (*Result, error) {
	params := anthropic.MessageNewParams{
		Messages: anthropicMessages(prefixPersonas(req.History)),
		System:   systemBlocks(req.System),
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
		if req.RequireTool {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}
	if req.WebSearch {
		slog.Debug("web search is not supported by this provider, ignoring", "provider", a.settings.Name)
	}

	msg, err := a.create(ctx, req.Tier, params)
	if err != nil {
		return nil, err
	}
	text, calls := a.normalize(msg)
	return &Result{
		Text:      text,
		ToolCalls: calls,
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

func (a *Anthropic) create(ctx context.Context, tier Tier, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	model, err := a.settings.model(tier)
	if err != nil {
		return nil, err
	}
	params.Model = anthropic.Model(model)
	params.MaxTokens = anthropicMaxTokens

	var msg *anthropic.Message
	err = a.policy.do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = a.client.Messages.New(ctx, params)
		if err != nil {
			return a.wrapErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.settings.observe(tier, Usage{
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
	})
	return msg, nil
}

func (a *Anthropic) normalize(msg *anthropic.Message) (string, []ToolCall) {
	var text []string
	var calls []ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, b.Text)
		case anthropic.ToolUseBlock:
			args, ok := parseArgs(a.settings.Name, b.Name, string(b.Input))
			if !ok {
				continue
			}
			calls = append(calls, ToolCall{ID: callID(b.ID), Name: b.Name, Args: args})
		}
	}
	return joinText(text), calls
}

// GenerateTextStream streams text deltas until message_stop.
func (a *Anthropic) GenerateTextStream(ctx context.Context, req StreamRequest) (Stream, error) {
	model, err := a.settings.model(req.Tier)
	if err != nil {
		return nil, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
		Messages:  anthropicMessages(prefixPersonas(req.History)),
		System:    systemBlocks(req.System),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err = a.policy.streaming().do(streamCtx, func(ctx context.Context) error {
		stream = a.client.Messages.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			stream.Close()
			return a.wrapErr(err)
		}
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &anthropicStream{stream: stream, cancel: cancel, wrap: a.wrapErr}, nil
}

func (a *Anthropic) wrapErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   a.settings.Name,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Err:        err,
		}
	}
	return transportError(a.settings.Name, err)
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cancel context.CancelFunc
	wrap   func(error) error
	cur    Chunk
	done   bool
}

func (s *anthropicStream) Next() bool {
	if s.done {
		return false
	}
	for s.stream.Next() {
		switch ev := s.stream.Current().AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				s.cur = Chunk{Text: delta.Text}
				return true
			}
		case anthropic.MessageStopEvent:
			s.done = true
			return false
		}
	}
	return false
}

func (s *anthropicStream) Current() Chunk { return s.cur }

func (s *anthropicStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *anthropicStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

func systemBlocks(system string) []anthropic.TextBlockParam {
	if system == "" {
		return nil
	}
	return []anthropic.TextBlockParam{{Text: system}}
}

// anthropicMessages converts history. Consecutive tool results become one
// user turn so every tool_use block is answered in the next message.
func anthropicMessages(history []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case RoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleModel:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
	}
	flush()
	return out
}

func anthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: t.Parameters["properties"],
		}
		switch req := t.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			out[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return out
}
