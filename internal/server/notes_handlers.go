package server

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/queue"
	"github.com/michaelbrown/notemind/internal/storage"
)

// pulseWindow is how many recent notes a pulse report covers.
const pulseWindow = 10

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListNotes(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []notes.Note{}
	}
	writeJSON(w, http.StatusOK, list)
}

type noteRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	n, err := notes.New(req.Title, req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n.Tags = req.Tags
	if err := s.store.CreateNote(r.Context(), n); err != nil {
		writeErr(w, err)
		return
	}
	s.scheduleTitle(n)
	writeJSON(w, http.StatusCreated, n)
}

type importRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleImportNote(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if s.importer == nil {
		writeError(w, http.StatusNotFound, "import is disabled")
		return
	}
	n, err := s.importer.Import(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := s.store.CreateNote(r.Context(), n); err != nil {
		writeErr(w, err)
		return
	}
	s.scheduleTitle(n)
	writeJSON(w, http.StatusCreated, n)
}

// scheduleTitle queues untitled notes for a generated title.
func (s *Server) scheduleTitle(n *notes.Note) {
	if s.titles != nil && n.Title == "" {
		s.titles.Schedule(n.ID)
	}
}

// TitleWork returns queue work that gives an untitled note a generated title.
// Notes titled in the meantime are left alone.
func TitleWork(store storage.Store, gen *generate.Generator) queue.Work {
	return func(ctx context.Context, id string) error {
		n, err := store.GetNote(ctx, id)
		if err != nil {
			return err
		}
		if n.Title != "" || n.Content == "" {
			return nil
		}
		title, err := gen.Title(ctx, n.Content)
		if err != nil || title == "" {
			return err
		}
		n.Title = title
		return store.UpdateNote(ctx, n)
	}
}

func (s *Server) note(w http.ResponseWriter, r *http.Request) (*notes.Note, bool) {
	n, err := s.store.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return n, true
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, notes.ErrEmptyNote.Error())
		return
	}
	n.Title = strings.TrimSpace(req.Title)
	n.Content = req.Content
	n.Tags = req.Tags
	if err := s.store.UpdateNote(r.Context(), n); err != nil {
		writeErr(w, err)
		return
	}
	s.scheduleTitle(n)
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	summary, err := s.gen.Summarize(r.Context(), *n)
	if err != nil {
		writeErr(w, err)
		return
	}
	n.Summary = summary
	if err := s.store.UpdateNote(r.Context(), n); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	title, err := s.gen.Title(r.Context(), n.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	if title == "" {
		writeError(w, http.StatusBadGateway, "model returned an empty title")
		return
	}
	n.Title = title
	if err := s.store.UpdateNote(r.Context(), n); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleMindMap(w http.ResponseWriter, r *http.Request) {
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	tree, err := s.gen.MindMap(r.Context(), *n)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	ins, err := s.gen.Insights(r.Context(), *n)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

type wikiRequest struct {
	Term string `json:"term"`
}

func (s *Server) handleWiki(w http.ResponseWriter, r *http.Request) {
	var req wikiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Term) == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	n, ok := s.note(w, r)
	if !ok {
		return
	}
	entry, err := s.gen.WikiEntry(r.Context(), req.Term, n.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"term": req.Term, "entry": entry})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	corpus, err := s.store.ListNotes(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	ans, err := s.retriever.Search(r.Context(), req.Query, corpus)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListNotes(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	if len(list) > pulseWindow {
		list = list[:pulseWindow]
	}
	report, err := s.gen.PulseReport(r.Context(), list)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report, "noteCount": len(list)})
}
