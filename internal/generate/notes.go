package generate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/tools"
)

const maxTitleRunes = 80

// Summarize returns a short markdown summary of a note.
func (g *Generator) Summarize(ctx context.Context, n notes.Note) (string, error) {
	prompt := fmt.Sprintf("Summarize this note in 2-4 sentences, keeping names, numbers and decisions.\n\nTitle: %s\n\n%s",
		n.DisplayTitle(), n.Content)
	return g.text(ctx, capability.Summary, "You write concise, faithful summaries.", prompt)
}

// Title proposes a short title for note content.
func (g *Generator) Title(ctx context.Context, content string) (string, error) {
	prompt := "Write a title of at most 8 words for this note. Reply with the title only, no quotes.\n\n" +
		notes.Excerpt(content, 2000)
	out, err := g.text(ctx, capability.Title, "", prompt)
	if err != nil {
		return "", err
	}
	return cleanTitle(out), nil
}

func cleanTitle(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), `"'*#`+"`")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxTitleRunes]))
	}
	return s
}

// PulseReport writes a digest of recent notes.
func (g *Generator) PulseReport(ctx context.Context, recent []notes.Note) (string, error) {
	if len(recent) == 0 {
		return "No notes to report on yet.", nil
	}
	var b strings.Builder
	b.WriteString("Write a weekly pulse report for the user based on these notes. Use markdown with the sections " +
		"\"Themes\", \"Progress\", \"Open loops\" and \"Suggested focus\". Refer to notes by title.\n\n")
	writeNotes(&b, recent, 1500)
	return g.text(ctx, capability.PulseReport, "You are a thoughtful chief of staff reviewing someone's notes.", b.String())
}

// WikiEntry writes an encyclopedia-style entry for term, using context from
// the note it was found in.
func (g *Generator) WikiEntry(ctx context.Context, term, source string) (string, error) {
	prompt := fmt.Sprintf("Write a short wiki entry in markdown for %q: a one-line definition, "+
		"a few paragraphs of explanation and a \"See also\" list.", term)
	if source != "" {
		prompt += "\n\nThe term came up in this note:\n" + notes.Excerpt(source, 3000)
	}
	return g.text(ctx, capability.WikiEntry, "You write clear, neutral reference entries.", prompt)
}

// MindMapNode is one node of a mind map tree.
type MindMapNode struct {
	Label    string        `json:"label"`
	Children []MindMapNode `json:"children,omitempty"`
}

// MindMapDepth is how many levels below the root a mind map may have.
const MindMapDepth = 3

// mindMapSchema builds the schema for a tree of the given depth. Leaves have
// no children property.
func mindMapSchema(depth int) map[string]any {
	props := map[string]any{
		"label": map[string]any{"type": "string"},
	}
	if depth > 0 {
		props["children"] = map[string]any{
			"type":  "array",
			"items": mindMapSchema(depth - 1),
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []string{"label"},
	}
}

// MindMap turns a note into a tree of concepts at most MindMapDepth levels deep.
func (g *Generator) MindMap(ctx context.Context, n notes.Note) (*MindMapNode, error) {
	res, err := g.resolve(capability.MindMap)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Build a mind map of the key ideas in this note. The root label is the main topic; "+
		"use at most %d levels below it and 3-6 children per node. Labels are short phrases.\n\nTitle: %s\n\n%s",
		MindMapDepth, n.DisplayTitle(), n.Content)
	root, err := llm.DecodeJSON[MindMapNode](ctx, res.Provider, llm.JSONRequest{
		Tier:   res.Tier,
		Prompt: prompt,
		Schema: mindMapSchema(MindMapDepth),
	})
	if err != nil {
		return nil, annotate(capability.MindMap, err)
	}
	root.prune(MindMapDepth)
	return &root, nil
}

// prune drops nodes deeper than depth and empty labels.
func (n *MindMapNode) prune(depth int) {
	if depth <= 0 {
		n.Children = nil
		return
	}
	kept := n.Children[:0]
	for _, c := range n.Children {
		if strings.TrimSpace(c.Label) == "" {
			continue
		}
		c.prune(depth - 1)
		kept = append(kept, c)
	}
	n.Children = kept
}

// Insights are the follow-ups found in a note.
type Insights struct {
	RelatedTopics []string `json:"relatedTopics"`
	ActionItems   []string `json:"actionItems"`
	WikiConcepts  []string `json:"wikiConcepts"`
}

// Insights asks the model to flag related topics, action items and wiki
// concepts in a note through the insight tools.
func (g *Generator) Insights(ctx context.Context, n notes.Note) (*Insights, error) {
	history := []llm.Message{llm.UserMessage(fmt.Sprintf("Title: %s\n\n%s", n.DisplayTitle(), n.Content))}
	res, err := g.withTools(ctx, capability.Insights, llm.ToolRequest{
		History: history,
		Tools:   tools.Declarations(tools.InsightTools...),
		System: "Read the user's note and call the tools for every related topic, concrete action item and " +
			"wiki-worthy concept you find. Call each tool as many times as needed. Do not reply with prose.",
	})
	if err != nil {
		return nil, err
	}

	out := &Insights{RelatedTopics: []string{}, ActionItems: []string{}, WikiConcepts: []string{}}
	seen := make(map[string]bool)
	add := func(list *[]string, kind, v string) {
		v = strings.TrimSpace(v)
		key := kind + "\x00" + strings.ToLower(v)
		if v == "" || seen[key] {
			return
		}
		seen[key] = true
		*list = append(*list, v)
	}
	for _, tc := range res.ToolCalls {
		switch tc.Name {
		case tools.FindRelatedNotes:
			add(&out.RelatedTopics, tc.Name, tc.StringArg("topic"))
		case tools.IdentifyActionItem:
			add(&out.ActionItems, tc.Name, tc.StringArg("task"))
		case tools.IdentifyWikiConcept:
			add(&out.WikiConcepts, tc.Name, tc.StringArg("term"))
		}
	}
	return out, nil
}

func writeNotes(b *strings.Builder, ns []notes.Note, perNote int) {
	for _, n := range ns {
		fmt.Fprintf(b, "## %s\n%s\n\n", n.DisplayTitle(), notes.Excerpt(n.Content, perNote))
	}
}
