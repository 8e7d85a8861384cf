package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/llm/llmtest"
	"github.com/michaelbrown/notemind/internal/notes"
)

func testRetriever(m *llmtest.MockProvider) *Retriever {
	return New(capability.NewRouter(capability.BuildScheme("mock"), map[string]llm.Provider{"mock": m}))
}

func corpus() []notes.Note {
	return []notes.Note{
		{ID: "n1", Title: "Quantum reading list", Content: "Nielsen and Chuang, chapter 2."},
		{ID: "n2", Title: "Groceries", Content: "eggs, milk"},
		{ID: "n3", Title: "Qubits", Content: "A qubit is a two-level system."},
	}
}

func TestEmptyCorpusMakesNoCalls(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	r := testRetriever(m)

	ans, err := r.Search(context.Background(), "quantum", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if ans.Text != NothingFound {
		t.Errorf("answer = %q, want NothingFound", ans.Text)
	}
	if n := m.CallCount(); n != 0 {
		t.Errorf("made %d model calls, want 0", n)
	}
}

func TestSelectRelevantNotes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
		want []string
	}{
		{name: "array", raw: `["n3","n1"]`, want: []string{"n3", "n1"}},
		{name: "unknown and duplicate ids dropped", raw: `["n3","zz","n3","n1"]`, want: []string{"n3", "n1"}},
		{name: "wrapped in object", raw: `{"ids":["n1"]}`, want: []string{"n1"}},
		{name: "not an array", raw: `"n1"`, want: nil},
		{name: "malformed", raw: `{"a":1}`, want: nil},
		{name: "provider error", err: errors.New("boom"), want: nil},
		{name: "order kept", raw: `["n1","n2","n3","n1"]`, want: []string{"n1", "n2", "n3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := llmtest.NewMockProvider("mock")
			m.JSONFunc = func(_ context.Context, req llm.JSONRequest) (json.RawMessage, error) {
				if req.Tier != llm.TierLite {
					t.Errorf("tier = %s, want lite", req.Tier)
				}
				return json.RawMessage(tt.raw), tt.err
			}
			got := testRetriever(m).SelectRelevantNotes(context.Background(), "quantum", corpus())
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectionPromptUsesPreviews(t *testing.T) {
	long := notes.Note{ID: "big", Title: "Big", Content: strings.Repeat("a", 1000) + "SECRET"}
	m := llmtest.NewMockProvider("mock")
	m.JSONFunc = func(_ context.Context, req llm.JSONRequest) (json.RawMessage, error) {
		if strings.Contains(req.Prompt, "SECRET") {
			t.Error("selection prompt contains full note content")
		}
		if !strings.Contains(req.Prompt, `"id":"big"`) {
			t.Error("selection prompt missing note id")
		}
		return json.RawMessage(`[]`), nil
	}
	testRetriever(m).SelectRelevantNotes(context.Background(), "q", []notes.Note{long})
}

func TestSearch(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.JSONFunc = func(context.Context, llm.JSONRequest) (json.RawMessage, error) {
		return json.RawMessage(`["n3"]`), nil
	}
	m.TextFunc = func(_ context.Context, req llm.TextRequest) (string, error) {
		if !strings.Contains(req.Prompt, "A qubit is a two-level system.") {
			t.Errorf("answer prompt missing note content: %q", req.Prompt)
		}
		if strings.Contains(req.Prompt, "eggs") {
			t.Error("answer prompt contains an unselected note")
		}
		return "A qubit has two levels (Qubits).", nil
	}

	ans, err := testRetriever(m).Search(context.Background(), "what is a qubit?", corpus())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if ans.Text != "A qubit has two levels (Qubits)." {
		t.Errorf("answer = %q", ans.Text)
	}
	if len(ans.Notes) != 1 || ans.Notes[0].ID != "n3" {
		t.Errorf("notes = %+v", ans.Notes)
	}
}

func TestSearchNoMatchSkipsAnswer(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.JSONFunc = func(context.Context, llm.JSONRequest) (json.RawMessage, error) {
		return json.RawMessage(`[]`), nil
	}
	ans, err := testRetriever(m).Search(context.Background(), "quantum", corpus())
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != NothingFound {
		t.Errorf("answer = %q", ans.Text)
	}
	if n := m.CallCount(); n != 1 {
		t.Errorf("made %d calls, want 1", n)
	}
}
