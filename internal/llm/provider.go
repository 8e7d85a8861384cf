package llm

import (
	"context"
	"encoding/json"
)

// Provider is the vendor-neutral surface every adapter implements.
// No vendor wire type crosses this boundary.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error)
	GenerateWithTools(ctx context.Context, req ToolRequest) (*Result, error)
	GenerateTextStream(ctx context.Context, req StreamRequest) (Stream, error)
}

// TextRequest is a single-turn completion.
type TextRequest struct {
	Tier   Tier
	Prompt string
	System string
}

// JSONRequest is a single-turn completion constrained to Schema.
type JSONRequest struct {
	Tier   Tier
	Prompt string
	Schema map[string]any
	System string
}

// ToolRequest is a multi-turn completion that may produce tool calls.
type ToolRequest struct {
	Tier    Tier
	History []Message
	Tools   []ToolDef
	System  string

	// WebSearch enables vendor-hosted search grounding where supported.
	WebSearch bool
	// RequireTool asks the vendor to force a tool call.
	RequireTool bool
}

// StreamRequest is a multi-turn text completion delivered incrementally.
type StreamRequest struct {
	Tier    Tier
	History []Message
	System  string
}

// Stream yields chunks as they arrive. Callers must Close it.
//
//	for s.Next() {
//		fmt.Print(s.Current().Text)
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// UsageObserver is notified after each successful provider call.
type UsageObserver func(provider string, tier Tier, u Usage)

// DecodeJSON runs req through p and unmarshals the result into T.
func DecodeJSON[T any](ctx context.Context, p Provider, req JSONRequest) (T, error) {
	var out T
	raw, err := p.GenerateJSON(ctx, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &GenerationError{Provider: p.Name(), Raw: string(raw), Err: err}
	}
	return out, nil
}
