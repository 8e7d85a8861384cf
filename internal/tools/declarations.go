// Package tools declares every tool offered to a model, once.
package tools

import (
	"fmt"
	"sort"

	"github.com/michaelbrown/notemind/internal/llm"
)

// Tool names.
const (
	SearchNotes         = "search_notes"
	CreateNote          = "create_note"
	SelectNextSpeaker   = "select_next_speaker"
	PassControlToUser   = "pass_control_to_user"
	FindRelatedNotes    = "find_related_notes"
	IdentifyActionItem  = "identify_action_item"
	IdentifyWikiConcept = "identify_wiki_concept"
	CreateNewAgent      = "create_new_agent"
)

// Tool sets offered by each call site.
var (
	AgentTools     = []string{SearchNotes, CreateNote}
	ModeratorTools = []string{SelectNextSpeaker, PassControlToUser}
	InsightTools   = []string{FindRelatedNotes, IdentifyActionItem, IdentifyWikiConcept}
	AuthoringTools = []string{CreateNewAgent}
)

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func object(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var declarations = map[string]llm.ToolDef{
	SearchNotes: {
		Name:        SearchNotes,
		Description: "Search the user's notes and answer a question using only what they contain.",
		Parameters: object([]string{"query"}, map[string]any{
			"query": stringProp("What to look for in the notes, phrased as a question or keywords"),
		}),
	},
	CreateNote: {
		Name:        CreateNote,
		Description: "Create a new note in the user's notebook.",
		Parameters: object([]string{"title", "content"}, map[string]any{
			"title":   stringProp("Short title for the note"),
			"content": stringProp("Full note body in markdown"),
		}),
	},
	SelectNextSpeaker: {
		Name:        SelectNextSpeaker,
		Description: "Choose which agent should speak next in the discussion.",
		Parameters: object([]string{"agent_name", "reason"}, map[string]any{
			"agent_name": stringProp("Exact name of the agent who should speak next"),
			"reason":     stringProp("Why this agent is the best next speaker"),
		}),
	},
	PassControlToUser: {
		Name:        PassControlToUser,
		Description: "End this round of discussion and hand the conversation back to the user.",
		Parameters: object([]string{"reason"}, map[string]any{
			"reason": stringProp("Why the discussion should return to the user now"),
		}),
	},
	FindRelatedNotes: {
		Name:        FindRelatedNotes,
		Description: "Flag a topic in this note that likely relates to other notes.",
		Parameters: object([]string{"topic"}, map[string]any{
			"topic": stringProp("The topic to look for in other notes"),
		}),
	},
	IdentifyActionItem: {
		Name:        IdentifyActionItem,
		Description: "Record a concrete task the user should do, found in this note.",
		Parameters: object([]string{"task"}, map[string]any{
			"task": stringProp("The task, phrased as an imperative"),
		}),
	},
	IdentifyWikiConcept: {
		Name:        IdentifyWikiConcept,
		Description: "Record a term or concept from this note that deserves its own wiki entry.",
		Parameters: object([]string{"term"}, map[string]any{
			"term": stringProp("The term or concept"),
		}),
	},
	CreateNewAgent: {
		Name:        CreateNewAgent,
		Description: "Create a new AI agent persona once its purpose and personality are clear.",
		Parameters: object([]string{"name", "description", "systemInstruction"}, map[string]any{
			"name":              stringProp("Short display name for the agent"),
			"description":       stringProp("One sentence describing what the agent does"),
			"systemInstruction": stringProp("Full behavioural instructions the agent will follow"),
			"icon":              stringProp("Optional single emoji representing the agent"),
			"color":             stringProp("Optional color name or hex code for the agent"),
		}),
	},
}

// Lookup returns the declaration for name.
func Lookup(name string) (llm.ToolDef, bool) {
	d, ok := declarations[name]
	return d, ok
}

// Declarations returns the declarations for names in order. Asking for an
// undeclared tool is a programming error.
func Declarations(names ...string) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(names))
	for _, n := range names {
		d, ok := declarations[n]
		if !ok {
			panic(fmt.Sprintf("tools: %q is not declared", n))
		}
		out = append(out, d)
	}
	return out
}

// All returns every declaration sorted by name.
func All() []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(declarations))
	for _, d := range declarations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsBuiltin reports whether name is declared here.
func IsBuiltin(name string) bool {
	_, ok := declarations[name]
	return ok
}
