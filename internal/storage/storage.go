package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/persona"
)

var ErrNotFound = errors.New("not found")

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// SessionMode is the kind of conversation a session holds.
type SessionMode string

const (
	ModeGeneral SessionMode = "general"
	ModeDebate  SessionMode = "debate"
	ModePodcast SessionMode = "podcast"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	switch m {
	case ModeGeneral, ModeDebate, ModePodcast:
		return true
	}
	return false
}

// DiscussionMode is how speakers are chosen in a general session.
type DiscussionMode string

const (
	DiscussionModerated  DiscussionMode = "moderated"
	DiscussionRoundRobin DiscussionMode = "round_robin"
)

// Session is the metadata for a saved group conversation.
type Session struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Mode           SessionMode    `json:"mode"`
	Topic          string         `json:"topic,omitempty"`
	ParticipantIDs []string       `json:"participantIds"`
	DiscussionMode DiscussionMode `json:"discussionMode"`
	Status         SessionStatus  `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// IsGenerating reports whether a cycle is running for the session.
func (s *Session) IsGenerating() bool { return s.Status == StatusRunning }

// SessionListOptions controls filtering and pagination for ListSessions.
type SessionListOptions struct {
	Status SessionStatus
	Mode   SessionMode
	Limit  int
	Offset int
}

// Store is the persistence interface for sessions, messages, notes and agents.
type Store interface {
	// CreateSession inserts a new session. The ID field must be set by the caller.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a session by ID or ID prefix.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions ordered by updated_at descending.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]Session, error)

	// UpdateSession updates mutable fields (title, status, topic, participants, updated_at).
	UpdateSession(ctx context.Context, s *Session) error

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// SaveMessages overwrites the full message history for a session.
	SaveMessages(ctx context.Context, sessionID string, messages []llm.Message) error

	// LoadMessages returns the message history for a session.
	LoadMessages(ctx context.Context, sessionID string) ([]llm.Message, error)

	// CreateNote inserts a note. The ID field must be set by the caller.
	CreateNote(ctx context.Context, n *notes.Note) error

	// GetNote returns a note by ID.
	GetNote(ctx context.Context, id string) (*notes.Note, error)

	// ListNotes returns all notes, most recently updated first.
	ListNotes(ctx context.Context) ([]notes.Note, error)

	// UpdateNote updates title, content, summary, tags and updated_at.
	UpdateNote(ctx context.Context, n *notes.Note) error

	// DeleteNote removes a note.
	DeleteNote(ctx context.Context, id string) error

	// SaveAgent inserts or replaces a custom agent.
	SaveAgent(ctx context.Context, a *persona.Agent) error

	// ListAgents returns custom agents in creation order.
	ListAgents(ctx context.Context) ([]persona.Agent, error)

	// DeleteAgent removes a custom agent by ID.
	DeleteAgent(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
