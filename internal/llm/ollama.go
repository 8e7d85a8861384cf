package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama talks to a local Ollama server through its native chat API. Tool
// call arguments arrive as parsed objects and calls carry no ids.
type Ollama struct {
	settings Settings
	client   *api.Client
	policy   callPolicy
}

// NewOllama creates an Ollama adapter. An unparseable base URL falls back to
// the local default.
func NewOllama(s Settings) *Ollama {
	base, err := url.Parse(strings.TrimRight(s.BaseURL, "/"))
	if err != nil || s.BaseURL == "" {
		base, _ = url.Parse("http://localhost:11434")
	}
	return &Ollama{
		settings: s,
		client:   api.NewClient(base, http.DefaultClient),
		policy:   newCallPolicy(s),
	}
}

func (o *Ollama) Name() string { return o.settings.Name }

func (o *Ollama) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	resp, err := o.chat(ctx, req.Tier, &api.ChatRequest{
		Messages: ollamaPrompt(req.System, req.Prompt),
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (o *Ollama) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	return generateJSON(ctx, o.settings.Name, req, func(ctx context.Context, prompt string, structured bool) (string, error) {
		chatReq := &api.ChatRequest{Messages: ollamaPrompt(req.System, prompt)}
		if structured {
			chatReq.Format = json.RawMessage(`"json"`)
			if req.Schema != nil {
				if schema, err := json.Marshal(req.Schema); err == nil {
					chatReq.Format = schema
				}
			}
		}
		resp, err := o.chat(ctx, req.Tier, chatReq)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	})
}

func (o *Ollama) GenerateWithTools(ctx context.Context, req ToolRequest) (*Result, error) {
	chatReq := &api.ChatRequest{
		Messages: ollamaMessages(req.System, prefixPersonas(req.History)),
		Tools:    ollamaTools(req.Tools),
	}
	if req.WebSearch {
		slog.Debug("web search is not supported by this provider, ignoring", "provider", o.settings.Name)
	}
	resp, err := o.chat(ctx, req.Tier, chatReq)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text: resp.Message.Content,
		Usage: Usage{
			PromptTokens:     int64(resp.PromptEvalCount),
			CompletionTokens: int64(resp.EvalCount),
		},
	}
	for _, tc := range resp.Message.ToolCalls {
		args := map[string]any(tc.Function.Arguments)
		if args == nil {
			args = map[string]any{}
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:   NewCallID(),
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return res, nil
}

func (o *Ollama) chat(ctx context.Context, tier Tier, req *api.ChatRequest) (*api.ChatResponse, error) {
	model, err := o.settings.model(tier)
	if err != nil {
		return nil, err
	}
	req.Model = model
	stream := false
	req.Stream = &stream

	var out api.ChatResponse
	err = o.policy.do(ctx, func(ctx context.Context) error {
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			out = resp
			return nil
		})
		if err != nil {
			return o.wrapErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.settings.observe(tier, Usage{
		PromptTokens:     int64(out.PromptEvalCount),
		CompletionTokens: int64(out.EvalCount),
	})
	return &out, nil
}

// GenerateTextStream bridges Ollama's callback API to a pull stream. The
// stream ends when Ollama reports done.
func (o *Ollama) GenerateTextStream(ctx context.Context, req StreamRequest) (Stream, error) {
	model, err := o.settings.model(req.Tier)
	if err != nil {
		return nil, err
	}
	stream := true
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMessages(req.System, prefixPersonas(req.History)),
		Stream:   &stream,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &ollamaStream{
		chunks: make(chan Chunk),
		cancel: cancel,
	}
	go func() {
		defer close(s.chunks)
		err := o.client.Chat(streamCtx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case s.chunks <- Chunk{Text: resp.Message.Content}:
				return nil
			case <-streamCtx.Done():
				return streamCtx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.err = o.wrapErr(err)
		}
	}()
	return s, nil
}

func (o *Ollama) wrapErr(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		msg := se.ErrorMessage
		if msg == "" {
			msg = se.Status
		}
		return &ProviderError{Provider: o.settings.Name, StatusCode: se.StatusCode, Message: msg, Err: err}
	}
	return transportError(o.settings.Name, err)
}

type ollamaStream struct {
	chunks chan Chunk
	cancel context.CancelFunc
	cur    Chunk
	err    error // written by the producer before chunks is closed
	closed bool
}

func (s *ollamaStream) Next() bool {
	c, ok := <-s.chunks
	if !ok {
		return false
	}
	s.cur = c
	return true
}

func (s *ollamaStream) Current() Chunk { return s.cur }

// Err is valid once Next has returned false.
func (s *ollamaStream) Err() error { return s.err }

func (s *ollamaStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	for range s.chunks {
	}
	return nil
}

func ollamaPrompt(system, prompt string) []api.Message {
	var out []api.Message
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}
	return append(out, api.Message{Role: "user", Content: prompt})
}

func ollamaMessages(system string, history []Message) []api.Message {
	var out []api.Message
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			out = append(out, api.Message{Role: "user", Content: m.Content})
		case RoleModel:
			msg := api.Message{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: tc.Args,
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, api.Message{Role: "tool", Content: m.Content})
		}
	}
	return out
}

func ollamaTools(tools []ToolDef) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: make(map[string]api.ToolProperty),
		}
		switch req := t.Parameters["required"].(type) {
		case []string:
			params.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					params.Required = append(params.Required, s)
				}
			}
		}
		if props, ok := t.Parameters["properties"].(map[string]any); ok {
			for name, p := range props {
				params.Properties[name] = ollamaProperty(p)
			}
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func ollamaProperty(v any) api.ToolProperty {
	var prop api.ToolProperty
	m, ok := v.(map[string]any)
	if !ok {
		return prop
	}
	switch t := m["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	}
	if desc, ok := m["description"].(string); ok {
		prop.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		prop.Enum = enum
	}
	if items, ok := m["items"]; ok {
		prop.Items = items
	}
	return prop
}
