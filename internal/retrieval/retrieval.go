// Package retrieval answers questions from the user's notes in two stages:
// a cheap selection call over note previews, then a grounded answer over the
// full text of the selected notes.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/notes"
)

// NothingFound is returned when no note is relevant to a query.
const NothingFound = "I couldn't find any relevant information in your notes to answer that question."

// MaxSelected caps how many notes the selection stage may return.
const MaxSelected = 5

// Retriever runs both stages against a router.
type Retriever struct {
	router *capability.Router
}

// New creates a Retriever.
func New(router *capability.Router) *Retriever {
	return &Retriever{router: router}
}

var selectSchema = map[string]any{
	"type":  "array",
	"items": map[string]any{"type": "string"},
}

// SelectRelevantNotes returns the ids of up to MaxSelected candidates most
// relevant to query. Any failure is logged and treated as no matches.
func (r *Retriever) SelectRelevantNotes(ctx context.Context, query string, candidates []notes.Note) []string {
	if len(candidates) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	res, err := r.router.Resolve(capability.SearchSelect)
	if err != nil {
		slog.Warn("note selection unavailable", "error", err)
		return nil
	}

	previews := make([]notes.Preview, len(candidates))
	for i, n := range candidates {
		previews[i] = n.Preview()
	}
	data, _ := json.Marshal(previews)
	prompt := fmt.Sprintf("User query: %q\n\nNotes:\n%s\n\n"+
		"Return a JSON array with the ids of the 3 to 5 notes most relevant to the query, most relevant first. "+
		"Return an empty array if none are relevant.", query, data)

	raw, err := res.Provider.GenerateJSON(ctx, llm.JSONRequest{
		Tier:   res.Tier,
		Prompt: prompt,
		Schema: selectSchema,
		System: "You are a search engine over a personal notebook. You only output note ids.",
	})
	if err != nil {
		slog.Warn("note selection failed", "error", err)
		return nil
	}
	return parseSelection(raw, notes.ByID(candidates))
}

// parseSelection keeps known, distinct ids from a JSON array. Models sometimes
// wrap the array in an object, so {"ids": [...]} is accepted too.
func parseSelection(raw json.RawMessage, known map[string]notes.Note) []string {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		var wrapped map[string][]string
		if err := json.Unmarshal(raw, &wrapped); err != nil || len(wrapped) != 1 {
			slog.Warn("note selection returned malformed JSON", "raw", string(raw))
			return nil
		}
		for _, v := range wrapped {
			ids = v
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := known[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == MaxSelected {
			break
		}
	}
	return out
}

// AnswerFromNotes answers query strictly from selected. With nothing selected
// it returns NothingFound without calling a model.
func (r *Retriever) AnswerFromNotes(ctx context.Context, query string, selected []notes.Note) (string, error) {
	if len(selected) == 0 {
		return NothingFound, nil
	}
	res, err := r.router.Resolve(capability.SearchAnswer)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, n := range selected {
		fmt.Fprintf(&b, "--- Note: %s (id %s) ---\n%s\n\n", n.DisplayTitle(), n.ID, n.Content)
	}
	prompt := fmt.Sprintf("Context from the user's notes:\n\n%s\nQuestion: %s", b.String(), query)
	out, err := res.Provider.GenerateText(ctx, llm.TextRequest{
		Tier:   res.Tier,
		Prompt: prompt,
		System: "Answer the question using only the provided notes. Mention which notes you used by title. " +
			"If the notes do not contain the answer, say so instead of guessing.",
	})
	if err != nil {
		return "", fmt.Errorf("answering from notes: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// SearchNotesInCorpus returns the notes from corpus relevant to query, in
// relevance order.
func (r *Retriever) SearchNotesInCorpus(ctx context.Context, query string, corpus []notes.Note) []notes.Note {
	ids := r.SelectRelevantNotes(ctx, query, corpus)
	byID := notes.ByID(corpus)
	out := make([]notes.Note, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// Answer is the result of a full search.
type Answer struct {
	Text  string       `json:"answer"`
	Notes []notes.Note `json:"notes"`
}

// Search runs selection then answering.
func (r *Retriever) Search(ctx context.Context, query string, corpus []notes.Note) (*Answer, error) {
	selected := r.SearchNotesInCorpus(ctx, query, corpus)
	text, err := r.AnswerFromNotes(ctx, query, selected)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Notes: selected}, nil
}
