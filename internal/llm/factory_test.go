package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewProviderLazyKeyCheck(t *testing.T) {
	p, err := NewProvider(Settings{Name: "openai", Type: TypeOpenAI, Models: map[Tier]string{TierLite: "m"}})
	if err != nil {
		t.Fatalf("NewProvider should not check keys: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name = %q", p.Name())
	}

	_, err = p.GenerateText(context.Background(), TextRequest{Tier: TierLite, Prompt: "hi"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if !IsConfigError(err) {
		t.Errorf("err = %T, want ConfigError", err)
	}
	if IsTransient(err) {
		t.Error("config errors must not be transient")
	}
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(Settings{Name: "mystery", Type: "carrier-pigeon"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestOllamaNeedsNoKey(t *testing.T) {
	s := Settings{Name: "ollama", Type: TypeOllama}
	if s.requiresKey() {
		t.Error("ollama should not require a key")
	}
}

func TestMissingTierModel(t *testing.T) {
	s := Settings{Name: "openai", Models: map[Tier]string{TierLite: "m"}}
	if _, err := s.model(TierPro); !IsConfigError(err) {
		t.Errorf("err = %v, want ConfigError", err)
	}
}

func TestProviderErrorTransient(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"rate limited", &ProviderError{StatusCode: 429}, true},
		{"server error", &ProviderError{StatusCode: 503}, true},
		{"bad request", &ProviderError{StatusCode: 400}, false},
		{"timeout", &ProviderError{Timeout: true}, true},
		{"canceled", &ProviderError{Err: context.Canceled}, false},
		{"deadline", transportError("x", context.DeadlineExceeded), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Transient(); got != tt.want {
				t.Errorf("Transient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnthropicMessagesGroupToolResults(t *testing.T) {
	call := ModelMessage("Scribe", "on it")
	call.ToolCalls = []ToolCall{
		{ID: "call_1", Name: "search_notes", Args: map[string]any{"query": "a"}},
		{ID: "call_2", Name: "create_note", Args: map[string]any{"title": "b"}},
	}
	out := anthropicMessages([]Message{
		UserMessage("hi"),
		call,
		ToolResultMessage("call_1", "r1"),
		ToolResultMessage("call_2", "r2"),
		UserMessage("thanks"),
	})
	if len(out) != 4 {
		t.Fatalf("messages = %d, want 4", len(out))
	}
	if out[1].Role != anthropic.MessageParamRoleAssistant || len(out[1].Content) != 3 {
		t.Errorf("assistant turn = %+v", out[1])
	}
	if out[2].Role != anthropic.MessageParamRoleUser || len(out[2].Content) != 2 {
		t.Errorf("tool result turn = %+v", out[2])
	}
}
