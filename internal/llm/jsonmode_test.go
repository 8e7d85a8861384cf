package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n[1,2]\n```", want: `[1,2]`},
		{name: "single line fence", in: "```json[1]```", want: `[1]`},
		{name: "surrounding whitespace", in: "\n  ```json\n{}\n```  \n", want: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.in); got != tt.want {
				t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type attemptRecorder struct {
	replies    []string
	prompts    []string
	structured []bool
}

func (r *attemptRecorder) attempt(_ context.Context, prompt string, structured bool) (string, error) {
	r.prompts = append(r.prompts, prompt)
	r.structured = append(r.structured, structured)
	reply := r.replies[len(r.prompts)-1]
	return reply, nil
}

func TestGenerateJSONFirstAttempt(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "plain", reply: `{"ok":true}`},
		{name: "json fence", reply: "```json\n{\"ok\":true}\n```"},
		{name: "bare fence", reply: "\n```\n{\"ok\":true}\n```\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &attemptRecorder{replies: []string{tt.reply}}
			raw, err := generateJSON(context.Background(), "test", JSONRequest{Prompt: "give json"}, rec.attempt)
			if err != nil {
				t.Fatalf("generateJSON: %v", err)
			}
			if string(raw) != `{"ok":true}` {
				t.Errorf("raw = %s", raw)
			}
			if len(rec.prompts) != 1 || !rec.structured[0] {
				t.Errorf("attempts = %d structured = %v, want one structured attempt", len(rec.prompts), rec.structured)
			}
		})
	}
}

func TestGenerateJSONRetriesWithStricterPrompt(t *testing.T) {
	rec := &attemptRecorder{replies: []string{
		"Sure! Here is your data:",
		"```json\n{\"ok\":true}\n```",
	}}
	req := JSONRequest{Prompt: "give json", Schema: map[string]any{"type": "object"}}
	raw, err := generateJSON(context.Background(), "test", req, rec.attempt)
	if err != nil {
		t.Fatalf("generateJSON: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("raw = %s, want fences stripped", raw)
	}
	if len(rec.prompts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(rec.prompts))
	}
	if rec.prompts[0] == rec.prompts[1] {
		t.Error("second prompt must differ from the first")
	}
	if !strings.Contains(rec.prompts[1], "only valid JSON") {
		t.Errorf("second prompt lacks strict instruction: %q", rec.prompts[1])
	}
	if !strings.Contains(rec.prompts[1], `"type":"object"`) {
		t.Errorf("second prompt lacks schema: %q", rec.prompts[1])
	}
}

func TestGenerateJSONFailsAfterRetry(t *testing.T) {
	rec := &attemptRecorder{replies: []string{"not json", "still not json"}}
	raw, err := generateJSON(context.Background(), "test", JSONRequest{Prompt: "p"}, rec.attempt)
	if raw != nil {
		t.Errorf("raw = %s, want nil", raw)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if genErr.Raw != "still not json" {
		t.Errorf("Raw = %q", genErr.Raw)
	}
	if len(rec.prompts) != 2 {
		t.Errorf("attempts = %d, want exactly 2", len(rec.prompts))
	}
}

func TestGenerateJSONTransportErrorNotRetried(t *testing.T) {
	calls := 0
	wantErr := &ProviderError{Provider: "test", StatusCode: 401, Message: "bad key"}
	_, err := generateJSON(context.Background(), "test", JSONRequest{Prompt: "p"}, func(context.Context, string, bool) (string, error) {
		calls++
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
