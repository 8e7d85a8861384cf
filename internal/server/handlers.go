package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeErr maps domain errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var (
		genErr  *llm.GenerationError
		provErr *llm.ProviderError
	)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case llm.IsConfigError(err):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &genErr), errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Session handlers ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := storage.SessionListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.SessionStatus(status)
	}
	if mode := r.URL.Query().Get("mode"); mode != "" {
		opts.Mode = storage.SessionMode(mode)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	sessions, err := s.store.ListSessions(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}

	if sessions == nil {
		sessions = []storage.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Title          string                 `json:"title"`
	Mode           storage.SessionMode    `json:"mode"`
	Topic          string                 `json:"topic"`
	ParticipantIDs []string               `json:"participantIds"`
	DiscussionMode storage.DiscussionMode `json:"discussionMode"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = storage.ModeGeneral
	}
	if !req.Mode.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}
	switch req.DiscussionMode {
	case "", storage.DiscussionModerated, storage.DiscussionRoundRobin:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown discussion mode %q", req.DiscussionMode))
		return
	}

	sess := &storage.Session{
		ID:             uuid.New().String(),
		Title:          req.Title,
		Mode:           req.Mode,
		Topic:          req.Topic,
		ParticipantIDs: req.ParticipantIDs,
		DiscussionMode: req.DiscussionMode,
		Status:         storage.StatusActive,
	}
	if _, err := s.sessions.Participants(r.Context(), sess); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	// Remove from active sessions first
	s.sessions.Remove(sess.ID)

	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	messages, err := s.store.LoadMessages(r.Context(), sess.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		data, err := storage.ExportJSON(sess, messages)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(storage.ExportMarkdown(sess, messages)))
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	cancelled := false
	if as, ok := s.sessions.Get(sess.ID); ok {
		cancelled = as.Cancel()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// --- Message handlers ---

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	messages, err := s.store.LoadMessages(r.Context(), sess.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if messages == nil {
		messages = []llm.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// cycleResponse lists the messages a cycle appended.
type cycleResponse struct {
	Messages  []llm.Message      `json:"messages"`
	State     orchestrator.State `json:"state"`
	Turns     int                `json:"turns"`
	Truncated bool               `json:"truncated,omitempty"`
	Cancelled bool               `json:"cancelled,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func newCycleResponse(appended []llm.Message, out orchestrator.Outcome) cycleResponse {
	if appended == nil {
		appended = []llm.Message{}
	}
	resp := cycleResponse{
		Messages:  appended,
		State:     out.State,
		Turns:     out.Turns,
		Truncated: out.Truncated,
		Cancelled: out.Cancelled,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request) (*ActiveSession, bool) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	as, err := s.sessions.GetOrCreate(r.Context(), sess)
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return as, true
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	as, ok := s.activeSession(w, r)
	if !ok {
		return
	}

	var appended []llm.Message
	out, err := s.sessions.Send(r.Context(), as, req.Content, Observer{
		OnMessage: func(msg llm.Message) { appended = append(appended, msg) },
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			writeErr(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newCycleResponse(appended, out))
}

type runScriptRequest struct {
	Topic string `json:"topic"`
	Turns int    `json:"turns"`
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	var req runScriptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	as, ok := s.activeSession(w, r)
	if !ok {
		return
	}
	if as.Session.Mode != storage.ModeDebate && as.Session.Mode != storage.ModePodcast {
		writeError(w, http.StatusBadRequest, "only debate and podcast sessions can run a script")
		return
	}

	var appended []llm.Message
	out, err := s.sessions.RunScript(r.Context(), as, req.Topic, req.Turns, Observer{
		OnMessage: func(msg llm.Message) { appended = append(appended, msg) },
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			writeErr(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newCycleResponse(appended, out))
}

// handleSynthesisNote saves the session's latest synthesis as a note.
func (s *Server) handleSynthesisNote(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	messages, err := s.store.LoadMessages(r.Context(), sess.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	res, ok := orchestrator.LastSynthesis(messages)
	if !ok {
		writeError(w, http.StatusNotFound, "session has no synthesis")
		return
	}
	n, err := orchestrator.SynthesisNote(sess.Topic, res)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.CreateNote(r.Context(), n); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// --- Scheme & usage ---

func (s *Server) handleScheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gen.Router().Table())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "usage tracking is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}
