package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/retrieval"
	"github.com/michaelbrown/notemind/internal/tools"
)

// NoteStore is the part of the store the agent tools need.
type NoteStore interface {
	ListNotes(ctx context.Context) ([]notes.Note, error)
	CreateNote(ctx context.Context, n *notes.Note) error
}

// Dispatcher executes agent tool calls. It implements tools.Executor, so the
// same dispatcher serves the orchestrator and the MCP server.
type Dispatcher struct {
	notes     NoteStore
	retriever *retrieval.Retriever
	external  *tools.External

	// OnNoteCreated is called after create_note stores a note.
	OnNoteCreated func(n notes.Note)
}

// NewDispatcher creates a Dispatcher. external may be nil.
func NewDispatcher(store NoteStore, retriever *retrieval.Retriever, external *tools.External) *Dispatcher {
	return &Dispatcher{notes: store, retriever: retriever, external: external}
}

// ExternalTools returns the declarations of connected MCP tools.
func (d *Dispatcher) ExternalTools() []llm.ToolDef {
	if d.external == nil {
		return nil
	}
	return d.external.ToolDefs()
}

// Execute runs one tool call and returns the text fed back to the model.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	switch call.Name {
	case tools.SearchNotes:
		return d.searchNotes(ctx, call)
	case tools.CreateNote:
		return d.createNote(ctx, call)
	}
	if d.external != nil && d.external.Has(call.Name) {
		return d.external.CallTool(ctx, call.Name, call.Args)
	}
	return "", fmt.Errorf("unknown tool %q", call.Name)
}

func (d *Dispatcher) searchNotes(ctx context.Context, call llm.ToolCall) (string, error) {
	query := strings.TrimSpace(call.StringArg("query"))
	if query == "" {
		return "", fmt.Errorf("'query' argument must be a non-empty string")
	}
	corpus, err := d.notes.ListNotes(ctx)
	if err != nil {
		return "", fmt.Errorf("listing notes: %w", err)
	}
	ans, err := d.retriever.Search(ctx, query, corpus)
	if err != nil {
		return "", err
	}
	return ans.Text, nil
}

func (d *Dispatcher) createNote(ctx context.Context, call llm.ToolCall) (string, error) {
	n, err := notes.New(call.StringArg("title"), call.StringArg("content"))
	if err != nil {
		return "", err
	}
	if err := d.notes.CreateNote(ctx, n); err != nil {
		return "", fmt.Errorf("saving note: %w", err)
	}
	if d.OnNoteCreated != nil {
		d.OnNoteCreated(*n)
	}
	return fmt.Sprintf("Created note %q (id %s, %d characters).", n.DisplayTitle(), n.ID, len(n.Content)), nil
}
