package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testSettings(name, typ, baseURL string) Settings {
	return Settings{
		Name:         name,
		Type:         typ,
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Models:       map[Tier]string{TierLite: "lite-model", TierFast: "fast-model", TierPro: "pro-model"},
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

const toolCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "fast-model",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "Let me look.",
      "tool_calls": [
        {"id": "", "type": "function", "function": {"name": "search_notes", "arguments": "{\"query\":\"quantum\"}"}},
        {"id": "call_bad", "type": "function", "function": {"name": "create_note", "arguments": "{\"title\":"}}
      ]
    }
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
}`

func TestOpenAICompatGenerateWithTools(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, toolCompletion)
	}))
	defer srv.Close()

	var observed Usage
	s := testSettings("deepseek", TypeOpenAI, srv.URL+"/v1")
	s.Observer = func(provider string, tier Tier, u Usage) { observed = u }
	p := NewOpenAICompat(s)

	prior := ModelMessage("Pragmatist", "")
	prior.ToolCalls = []ToolCall{{ID: "call_1", Name: "search_notes", Args: map[string]any{"query": "x"}}}
	history := []Message{
		UserMessage("what do my notes say?"),
		prior,
		ToolResultMessage("call_1", "nothing"),
		ModelMessage("Visionary", "imagine more"),
	}

	res, err := p.GenerateWithTools(context.Background(), ToolRequest{
		Tier:        TierFast,
		History:     history,
		Tools:       []ToolDef{{Name: "search_notes", Parameters: map[string]any{"type": "object"}}},
		System:      "be brief",
		RequireTool: true,
	})
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}

	if res.Text != "Let me look." {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1 (malformed call dropped)", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.Name != "search_notes" || tc.StringArg("query") != "quantum" {
		t.Errorf("tool call = %+v", tc)
	}
	if !strings.HasPrefix(tc.ID, "call_") {
		t.Errorf("ID = %q, want synthetic id", tc.ID)
	}
	if observed.PromptTokens != 12 || observed.CompletionTokens != 7 {
		t.Errorf("observed usage = %+v", observed)
	}

	if body["model"] != "fast-model" {
		t.Errorf("model = %v", body["model"])
	}
	if body["tool_choice"] != "required" {
		t.Errorf("tool_choice = %v", body["tool_choice"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	roles := []string{"system", "user", "assistant", "tool", "assistant"}
	for i, want := range roles {
		m := msgs[i].(map[string]any)
		if m["role"] != want {
			t.Errorf("messages[%d].role = %v, want %s", i, m["role"], want)
		}
	}
	if tool := msgs[3].(map[string]any); tool["tool_call_id"] != "call_1" {
		t.Errorf("tool_call_id = %v", tool["tool_call_id"])
	}
	if last := msgs[4].(map[string]any); last["content"] != "[Visionary]: imagine more" {
		t.Errorf("persona prefix missing: %v", last["content"])
	}
}

func TestOpenAICompatRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		io.WriteString(w, `{"id":"1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(testSettings("openai", TypeOpenAI, srv.URL))
	got, err := p.GenerateText(context.Background(), TextRequest{Tier: TierLite, Prompt: "hi"})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "hello" {
		t.Errorf("text = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenAICompatHardErrorSurfacesStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key","type":"auth"}}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(testSettings("openai", TypeOpenAI, srv.URL))
	_, err := p.GenerateText(context.Background(), TextRequest{Tier: TierLite, Prompt: "hi"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.StatusCode != http.StatusUnauthorized || pe.Transient() {
		t.Errorf("ProviderError = %+v", pe)
	}
	if !strings.Contains(err.Error(), "failed to get response from openai") {
		t.Errorf("message = %q", err.Error())
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want no retry", calls.Load())
	}
}

func TestOpenAICompatStreamYieldsBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunk := func(text string) {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", text)
			flusher.Flush()
		}
		chunk("Hel")
		select {
		case <-release:
		case <-r.Context().Done():
			return
		case <-time.After(5 * time.Second):
			return
		}
		chunk("lo")
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := NewOpenAICompat(testSettings("openai", TypeOpenAI, srv.URL))
	s, err := p.GenerateTextStream(context.Background(), StreamRequest{
		Tier:    TierFast,
		History: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("GenerateTextStream: %v", err)
	}
	defer s.Close()

	if !s.Next() {
		t.Fatalf("no first chunk: %v", s.Err())
	}
	if got := s.Current().Text; got != "Hel" {
		t.Errorf("first chunk = %q", got)
	}
	close(release)

	var rest strings.Builder
	for s.Next() {
		rest.WriteString(s.Current().Text)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if rest.String() != "lo" {
		t.Errorf("rest = %q", rest.String())
	}
}
