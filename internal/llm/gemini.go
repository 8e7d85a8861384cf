package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Gemini talks to the native Gemini REST API. Unlike OpenAI-compatible
// vendors it sends function arguments as objects, omits call ids and keys
// function responses by name.
type Gemini struct {
	settings Settings
	client   *resty.Client
	policy   callPolicy
}

// NewGemini creates a Gemini adapter.
func NewGemini(s Settings) *Gemini {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(s.BaseURL, "/"))
	client.SetHeader("x-goog-api-key", s.APIKey)
	client.SetHeader("Content-Type", "application/json")
	return &Gemini{
		settings: s,
		client:   client,
		policy:   newCallPolicy(s),
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}                   `json:"googleSearch,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode string `json:"mode"`
	} `json:"functionCallingConfig"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) Name() string { return g.settings.Name }

func (g *Gemini) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	resp, err := g.generate(ctx, req.Tier, geminiRequest{
		Contents:          []geminiContent{userText(req.Prompt)},
		SystemInstruction: systemContent(req.System),
	})
	if err != nil {
		return "", err
	}
	text, _ := g.normalize(resp)
	return text, nil
}

func (g *Gemini) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	return generateJSON(ctx, g.settings.Name, req, func(ctx context.Context, prompt string, structured bool) (string, error) {
		body := geminiRequest{
			Contents:          []geminiContent{userText(prompt)},
			SystemInstruction: systemContent(req.System),
		}
		if structured {
			body.GenerationConfig = &geminiGenerationConfig{
				ResponseMimeType: "application/json",
				ResponseSchema:   geminiSchema(req.Schema),
			}
		}
		resp, err := g.generate(ctx, req.Tier, body)
		if err != nil {
			return "", err
		}
		text, _ := g.normalize(resp)
		return text, nil
	})
}

func (g *Gemini) GenerateWithTools(ctx context.Context, req ToolRequest) (*Result, error) {
	body := geminiRequest{
		Contents:          geminiContents(prefixPersonas(req.History)),
		SystemInstruction: systemContent(req.System),
	}
	switch {
	case req.WebSearch:
		// Search grounding cannot be combined with function declarations.
		body.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	case len(req.Tools) > 0:
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			})
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
		if req.RequireTool {
			body.ToolConfig = &geminiToolConfig{}
			body.ToolConfig.FunctionCallingConfig.Mode = "ANY"
		}
	}

	resp, err := g.generate(ctx, req.Tier, body)
	if err != nil {
		return nil, err
	}
	text, calls := g.normalize(resp)
	return &Result{
		Text:      text,
		ToolCalls: calls,
		Usage: Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (g *Gemini) generate(ctx context.Context, tier Tier, body geminiRequest) (*geminiResponse, error) {
	model, err := g.settings.model(tier)
	if err != nil {
		return nil, err
	}

	var out geminiResponse
	err = g.policy.do(ctx, func(ctx context.Context) error {
		out = geminiResponse{}
		var apiErr geminiError
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			SetError(&apiErr).
			Post("/models/" + model + ":generateContent")
		if err != nil {
			return transportError(g.settings.Name, err)
		}
		if resp.IsError() {
			return g.statusError(resp.StatusCode(), apiErr, resp.Status())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%s: prompt blocked: %s", g.settings.Name, out.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%s: %w", g.settings.Name, ErrNoChoices)
	}
	g.settings.observe(tier, Usage{
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
	})
	return &out, nil
}

func (g *Gemini) statusError(status int, apiErr geminiError, fallback string) *ProviderError {
	msg := apiErr.Error.Message
	if msg == "" {
		msg = fallback
	}
	return &ProviderError{Provider: g.settings.Name, StatusCode: status, Message: msg}
}

// normalize converts the first candidate into text and tool calls.
func (g *Gemini) normalize(resp *geminiResponse) (string, []ToolCall) {
	var text []string
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Thought:
		case part.FunctionCall != nil:
			fc := part.FunctionCall
			args, ok := parseArgs(g.settings.Name, fc.Name, string(fc.Args))
			if !ok {
				continue
			}
			calls = append(calls, ToolCall{ID: callID(fc.ID), Name: fc.Name, Args: args})
		case part.Text != "":
			text = append(text, part.Text)
		}
	}
	return joinText(text), calls
}

// GenerateTextStream uses streamGenerateContent with alt=sse. The stream ends
// when the server closes the connection.
func (g *Gemini) GenerateTextStream(ctx context.Context, req StreamRequest) (Stream, error) {
	model, err := g.settings.model(req.Tier)
	if err != nil {
		return nil, err
	}
	body := geminiRequest{
		Contents:          geminiContents(prefixPersonas(req.History)),
		SystemInstruction: systemContent(req.System),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var raw io.ReadCloser
	err = g.policy.streaming().do(streamCtx, func(ctx context.Context) error {
		resp, err := g.client.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetQueryParam("alt", "sse").
			SetBody(body).
			Post("/models/" + model + ":streamGenerateContent")
		if err != nil {
			return transportError(g.settings.Name, err)
		}
		if resp.StatusCode() >= 400 {
			defer resp.RawBody().Close()
			var apiErr geminiError
			if b, err := io.ReadAll(resp.RawBody()); err == nil {
				_ = json.Unmarshal(b, &apiErr)
			}
			return g.statusError(resp.StatusCode(), apiErr, resp.Status())
		}
		raw = resp.RawBody()
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &geminiStream{g: g, tier: req.Tier, sse: newSSEReader(raw), cancel: cancel}, nil
}

type geminiStream struct {
	g      *Gemini
	tier   Tier
	sse    *sseReader
	cancel context.CancelFunc
	cur    Chunk
	usage  Usage
	err    error
}

func (s *geminiStream) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		data, ok := s.sse.next()
		if !ok {
			if err := s.sse.err(); err != nil {
				s.err = transportError(s.g.settings.Name, err)
			} else {
				s.g.settings.observe(s.tier, s.usage)
			}
			return false
		}
		var resp geminiResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.err = &ProviderError{Provider: s.g.settings.Name, Message: "malformed stream chunk", Err: err}
			return false
		}
		if resp.UsageMetadata.PromptTokenCount > 0 {
			s.usage = Usage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		text, _ := s.g.normalize(&resp)
		if text == "" {
			continue
		}
		s.cur = Chunk{Text: text}
		return true
	}
}

func (s *geminiStream) Current() Chunk { return s.cur }
func (s *geminiStream) Err() error     { return s.err }

func (s *geminiStream) Close() error {
	s.cancel()
	return s.sse.close()
}

func userText(text string) geminiContent {
	return geminiContent{Role: "user", Parts: []geminiPart{{Text: text}}}
}

func systemContent(system string) *geminiContent {
	if system == "" {
		return nil
	}
	return &geminiContent{Parts: []geminiPart{{Text: system}}}
}

// geminiContents converts history, folding tool results into user turns and
// merging consecutive turns of the same role.
func geminiContents(history []Message) []geminiContent {
	names := callNames(history)
	var out []geminiContent
	add := func(role string, parts ...geminiPart) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}

	for _, m := range history {
		switch m.Role {
		case RoleUser:
			add("user", geminiPart{Text: m.Content})
		case RoleModel:
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Name,
					Args: json.RawMessage(marshalArgs(tc.Args)),
				}})
			}
			add("model", parts...)
		case RoleTool:
			name, ok := names[m.ToolCallID]
			if !ok {
				slog.Warn("tool result without matching call, sending as text", "tool_call_id", m.ToolCallID)
				add("user", geminiPart{Text: m.Content})
				continue
			}
			add("user", geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     name,
				Response: map[string]any{"result": m.Content},
			}})
		}
	}
	return out
}

// geminiSchema rewrites a JSON Schema into the OpenAPI subset Gemini accepts:
// upper-case type names and no additionalProperties.
func geminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema":
			continue
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
				continue
			}
			out[k] = v
		case "properties":
			props, ok := v.(map[string]any)
			if !ok {
				out[k] = v
				continue
			}
			converted := make(map[string]any, len(props))
			for name, p := range props {
				if ps, ok := p.(map[string]any); ok {
					converted[name] = geminiSchema(ps)
				} else {
					converted[name] = p
				}
			}
			out[k] = converted
		case "items":
			if items, ok := v.(map[string]any); ok {
				out[k] = geminiSchema(items)
				continue
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}
