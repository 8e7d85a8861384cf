package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/tools"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	dir, err := s.sessions.Directory(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dir.All())
}

type agentRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	SystemInstruction string `json:"systemInstruction"`
	Icon              string `json:"icon"`
	Color             string `json:"color"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	a, err := persona.NewCustom(req.Name, req.Description, req.SystemInstruction, req.Icon, req.Color)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.saveAgent(w, r, &a) {
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// saveAgent rejects names that clash with a built-in agent; the store
// rejects clashes between custom agents.
func (s *Server) saveAgent(w http.ResponseWriter, r *http.Request, a *persona.Agent) bool {
	for _, d := range persona.Defaults() {
		if strings.EqualFold(d.Name, a.Name) {
			writeError(w, http.StatusConflict, "an agent named "+a.Name+" already exists")
			return false
		}
	}
	if err := s.store.SaveAgent(r.Context(), a); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return false
	}
	return true
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, d := range persona.Defaults() {
		if d.ID == id {
			writeError(w, http.StatusBadRequest, "built-in agents cannot be deleted")
			return
		}
	}
	if err := s.store.DeleteAgent(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type composeRequest struct {
	Messages []llm.Message `json:"messages"`
}

type composeResponse struct {
	Reply string         `json:"reply"`
	Agent *persona.Agent `json:"agent,omitempty"`
}

// handleComposeAgent runs one turn of the agent-creation conversation. When
// the model calls create_new_agent the agent is saved and returned.
func (s *Server) handleComposeAgent(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	res, err := s.gen.AgentCreationTurn(r.Context(), req.Messages)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := composeResponse{Reply: res.Text}
	for _, tc := range res.ToolCalls {
		if tc.Name != tools.CreateNewAgent {
			continue
		}
		a, err := persona.FromToolArgs(tc.Args)
		if err != nil {
			if errors.Is(err, persona.ErrInvalidAgent) {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeErr(w, err)
			return
		}
		if !s.saveAgent(w, r, &a) {
			return
		}
		resp.Agent = &a
		if resp.Reply == "" {
			resp.Reply = "Created " + a.Name + "."
		}
		break
	}
	writeJSON(w, http.StatusOK, resp)
}
