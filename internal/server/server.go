// Package server exposes notes, agents and group sessions over REST and
// streams live session events over WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/queue"
	"github.com/michaelbrown/notemind/internal/retrieval"
	"github.com/michaelbrown/notemind/internal/storage"
	"github.com/michaelbrown/notemind/internal/usage"
)

// Deps are the services the server exposes.
type Deps struct {
	Store      storage.Store
	Generator  *generate.Generator
	Retriever  *retrieval.Retriever
	Dispatcher *orchestrator.Dispatcher
	Importer   *notes.Importer
	Ledger     *usage.Ledger
	// Titles titles untitled notes in the background. Optional.
	Titles   *queue.Queue
	Sessions SessionOptions
}

// Server is the HTTP server for the notemind web API.
type Server struct {
	store     storage.Store
	gen       *generate.Generator
	retriever *retrieval.Retriever
	importer  *notes.Importer
	ledger    *usage.Ledger
	titles    *queue.Queue
	sessions  *SessionManager
	router    chi.Router
	http      *http.Server
}

// New creates a new Server.
func New(d Deps) *Server {
	s := &Server{
		store:     d.Store,
		gen:       d.Generator,
		retriever: d.Retriever,
		importer:  d.Importer,
		ledger:    d.Ledger,
		titles:    d.Titles,
		sessions:  NewSessionManager(d.Store, d.Generator, d.Dispatcher, d.Sessions),
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		// WebSocket (no JSON content-type)
		r.Get("/sessions/{id}/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			// Notes
			r.Get("/notes", s.handleListNotes)
			r.Post("/notes", s.handleCreateNote)
			r.Post("/notes/import", s.handleImportNote)
			r.Get("/notes/{id}", s.handleGetNote)
			r.Put("/notes/{id}", s.handleUpdateNote)
			r.Delete("/notes/{id}", s.handleDeleteNote)
			r.Post("/notes/{id}/summary", s.handleSummarize)
			r.Post("/notes/{id}/title", s.handleTitle)
			r.Post("/notes/{id}/mindmap", s.handleMindMap)
			r.Post("/notes/{id}/insights", s.handleInsights)
			r.Post("/notes/{id}/wiki", s.handleWiki)
			r.Post("/search", s.handleSearch)
			r.Post("/pulse", s.handlePulse)

			// Agents
			r.Get("/agents", s.handleListAgents)
			r.Post("/agents", s.handleCreateAgent)
			r.Post("/agents/compose", s.handleComposeAgent)
			r.Delete("/agents/{id}", s.handleDeleteAgent)

			// Sessions
			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
			r.Get("/sessions/{id}/export", s.handleExportSession)
			r.Post("/sessions/{id}/cancel", s.handleCancelSession)
			r.Post("/sessions/{id}/script", s.handleRunScript)
			r.Post("/sessions/{id}/synthesis/note", s.handleSynthesisNote)

			// Messages
			r.Get("/sessions/{id}/messages", s.handleGetMessages)
			r.Post("/sessions/{id}/messages", s.handleSendMessage)

			// Scheme & usage
			r.Get("/scheme", s.handleScheme)
			r.Get("/usage", s.handleUsage)
		})
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("notemind server starting", "url", "http://localhost"+addr)
	return s.http.ListenAndServe()
}

// Shutdown cancels running cycles and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(shutdownCtx)
}
