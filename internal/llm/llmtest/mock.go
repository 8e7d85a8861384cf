// Package llmtest provides a scriptable llm.Provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/michaelbrown/notemind/internal/llm"
)

// MockProvider implements llm.Provider. Unset funcs fall back to canned replies.
type MockProvider struct {
	ProviderName string

	TextFunc   func(ctx context.Context, req llm.TextRequest) (string, error)
	JSONFunc   func(ctx context.Context, req llm.JSONRequest) (json.RawMessage, error)
	ToolsFunc  func(ctx context.Context, req llm.ToolRequest) (*llm.Result, error)
	StreamFunc func(ctx context.Context, req llm.StreamRequest) (llm.Stream, error)

	mu    sync.Mutex
	calls []Call
}

// Call records one invocation.
type Call struct {
	Method string
	Tier   llm.Tier
	Prompt string
	System string
	Tools  []string
}

// NewMockProvider creates a mock provider with default implementations.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{ProviderName: name}
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	m.record(Call{Method: "GenerateText", Tier: req.Tier, Prompt: req.Prompt, System: req.System})
	if m.TextFunc != nil {
		return m.TextFunc(ctx, req)
	}
	return "Mock response", nil
}

func (m *MockProvider) GenerateJSON(ctx context.Context, req llm.JSONRequest) (json.RawMessage, error) {
	m.record(Call{Method: "GenerateJSON", Tier: req.Tier, Prompt: req.Prompt, System: req.System})
	if m.JSONFunc != nil {
		return m.JSONFunc(ctx, req)
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockProvider) GenerateWithTools(ctx context.Context, req llm.ToolRequest) (*llm.Result, error) {
	names := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		names[i] = t.Name
	}
	m.record(Call{Method: "GenerateWithTools", Tier: req.Tier, System: req.System, Tools: names})
	if m.ToolsFunc != nil {
		return m.ToolsFunc(ctx, req)
	}
	return &llm.Result{Text: "Mock response with tools"}, nil
}

func (m *MockProvider) GenerateTextStream(ctx context.Context, req llm.StreamRequest) (llm.Stream, error) {
	m.record(Call{Method: "GenerateTextStream", Tier: req.Tier, System: req.System})
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return NewStream("Mock ", "response"), nil
}

func (m *MockProvider) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns a copy of the recorded invocations.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Stream is an in-memory llm.Stream.
type Stream struct {
	chunks []string
	pos    int
	err    error
	closed bool
}

// NewStream returns a stream that yields each chunk in order.
func NewStream(chunks ...string) *Stream {
	return &Stream{chunks: chunks, pos: -1}
}

// NewErrStream returns a stream that yields chunks and then fails with err.
func NewErrStream(err error, chunks ...string) *Stream {
	return &Stream{chunks: chunks, pos: -1, err: err}
}

func (s *Stream) Next() bool {
	if s.closed || s.pos+1 >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *Stream) Current() llm.Chunk { return llm.Chunk{Text: s.chunks[s.pos]} }

func (s *Stream) Err() error {
	if s.pos+1 >= len(s.chunks) {
		return s.err
	}
	return nil
}

func (s *Stream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool { return s.closed }
