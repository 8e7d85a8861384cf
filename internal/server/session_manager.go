package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/storage"
	"github.com/michaelbrown/notemind/internal/tools"
)

// ErrBusy means a cycle is already running for the session.
var ErrBusy = errors.New("session is already generating")

// Observer receives events from a running cycle.
type Observer struct {
	OnMessage func(msg llm.Message)
	OnState   func(state orchestrator.State)
}

// ActiveSession is the in-memory conversation for a session.
type ActiveSession struct {
	Session *storage.Session
	Conv    *orchestrator.Conversation

	mu     sync.Mutex // one cycle at a time per session
	cmu    sync.Mutex // guards cancel
	cancel context.CancelFunc
}

func (as *ActiveSession) setCancel(c context.CancelFunc) {
	as.cmu.Lock()
	as.cancel = c
	as.cmu.Unlock()
}

// Cancel stops the in-flight cycle, if any.
func (as *ActiveSession) Cancel() bool {
	as.cmu.Lock()
	defer as.cmu.Unlock()
	if as.cancel == nil {
		return false
	}
	as.cancel()
	return true
}

// SessionOptions bounds the conversations a SessionManager runs.
type SessionOptions struct {
	Orchestrator orchestrator.Options
	DebateTurns  int
	PodcastTurns int
}

// SessionManager tracks which sessions have a conversation in memory and
// runs cycles against them, saving history after every appended message.
type SessionManager struct {
	store     storage.Store
	responder orchestrator.Responder
	exec      tools.Executor
	opts      SessionOptions

	mu       sync.RWMutex
	sessions map[string]*ActiveSession
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(store storage.Store, responder orchestrator.Responder, exec tools.Executor, opts SessionOptions) *SessionManager {
	return &SessionManager{
		store:     store,
		responder: responder,
		exec:      exec,
		opts:      opts,
		sessions:  make(map[string]*ActiveSession),
	}
}

// Get returns an active session if it exists.
func (sm *SessionManager) Get(sessionID string) (*ActiveSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	as, ok := sm.sessions[sessionID]
	return as, ok
}

// GetOrCreate returns the active session for sess, loading its history and
// resolving its participants on first use.
func (sm *SessionManager) GetOrCreate(ctx context.Context, sess *storage.Session) (*ActiveSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if as, ok := sm.sessions[sess.ID]; ok {
		return as, nil
	}

	participants, err := sm.Participants(ctx, sess)
	if err != nil {
		return nil, err
	}

	// Load existing history if any
	messages, err := sm.store.LoadMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	as := &ActiveSession{
		Session: sess,
		Conv:    &orchestrator.Conversation{History: messages, Participants: participants},
	}
	sm.sessions[sess.ID] = as
	return as, nil
}

// Directory indexes the built-in agents followed by custom agents.
func (sm *SessionManager) Directory(ctx context.Context) (*persona.Directory, error) {
	custom, err := sm.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	return persona.NewDirectory(append(persona.Defaults(), custom...)...), nil
}

// Participants resolves the session's participant ids. Sessions without
// participants get the default panel for their mode.
func (sm *SessionManager) Participants(ctx context.Context, sess *storage.Session) ([]persona.Agent, error) {
	dir, err := sm.Directory(ctx)
	if err != nil {
		return nil, err
	}
	refs := sess.ParticipantIDs
	if len(refs) == 0 {
		refs = defaultPanel(sess.Mode)
	}
	found, _ := dir.Resolve(refs)
	if len(found) == 0 {
		return nil, fmt.Errorf("session %s has no available participants", sess.ID)
	}
	return found, nil
}

func defaultPanel(mode storage.SessionMode) []string {
	switch mode {
	case storage.ModeDebate:
		return []string{persona.PragmatistID, persona.VisionaryID}
	case storage.ModePodcast:
		return []string{persona.HostID, persona.VisionaryID}
	}
	return []string{persona.PragmatistID, persona.VisionaryID, persona.ResearcherID, persona.SkepticID, persona.ScribeID}
}

// Send runs one user turn: moderated or round-robin depending on the session.
func (sm *SessionManager) Send(ctx context.Context, as *ActiveSession, text string, obs Observer) (orchestrator.Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return orchestrator.Outcome{}, errors.New("message is empty")
	}
	if as.Session.Mode != storage.ModeGeneral && as.Session.Mode != "" {
		return orchestrator.Outcome{}, fmt.Errorf("%s sessions are scripted and do not take messages", as.Session.Mode)
	}
	return sm.run(ctx, as, obs, func(ctx context.Context, o *orchestrator.Orchestrator) orchestrator.Outcome {
		// Auto-generate title from first message
		if as.Session.Title == "" {
			as.Session.Title = generateTitle(text)
		}
		if as.Session.DiscussionMode == storage.DiscussionRoundRobin {
			return o.RunRoundRobin(ctx, as.Conv, text)
		}
		return o.RunCycle(ctx, as.Conv, text)
	})
}

// RunScript runs a debate or podcast for the session's first two
// participants. An empty topic falls back to the session topic.
func (sm *SessionManager) RunScript(ctx context.Context, as *ActiveSession, topic string, turns int, obs Observer) (orchestrator.Outcome, error) {
	if topic = strings.TrimSpace(topic); topic == "" {
		topic = as.Session.Topic
	}
	if topic == "" {
		return orchestrator.Outcome{}, errors.New("topic is required")
	}
	if len(as.Conv.Participants) < 2 {
		return orchestrator.Outcome{}, errors.New("scripted sessions need two participants")
	}
	first, second := as.Conv.Participants[0], as.Conv.Participants[1]

	return sm.run(ctx, as, obs, func(ctx context.Context, o *orchestrator.Orchestrator) orchestrator.Outcome {
		as.Session.Topic = topic
		if as.Session.Title == "" {
			as.Session.Title = generateTitle(topic)
		}
		switch as.Session.Mode {
		case storage.ModePodcast:
			if turns <= 0 {
				turns = sm.opts.PodcastTurns
			}
			return o.RunPodcast(ctx, as.Conv, topic, first, second, turns)
		default:
			if turns <= 0 {
				turns = sm.opts.DebateTurns
			}
			return o.RunDebate(ctx, as.Conv, topic, first, second, turns)
		}
	})
}

func (sm *SessionManager) run(ctx context.Context, as *ActiveSession, obs Observer,
	cycle func(ctx context.Context, o *orchestrator.Orchestrator) orchestrator.Outcome) (orchestrator.Outcome, error) {
	if !as.mu.TryLock() {
		return orchestrator.Outcome{}, ErrBusy
	}
	defer as.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	as.setCancel(cancel)
	defer func() {
		cancel()
		as.setCancel(nil)
	}()

	// Saves outlive a cancelled cycle so partial history is kept.
	saveCtx := context.WithoutCancel(ctx)
	sess := as.Session
	sm.setStatus(saveCtx, sess, storage.StatusRunning)

	o := orchestrator.New(sm.responder, sm.exec, sm.opts.Orchestrator)
	o.OnState = obs.OnState
	o.OnMessage = func(msg llm.Message) {
		if err := sm.store.SaveMessages(saveCtx, sess.ID, as.Conv.History); err != nil {
			slog.Error("failed to save messages", "session", sess.ID, "error", err)
		}
		if obs.OnMessage != nil {
			obs.OnMessage(msg)
		}
	}

	out := cycle(ctx, o)

	status := storage.StatusActive
	if sess.Mode == storage.ModeDebate || sess.Mode == storage.ModePodcast {
		status = storage.StatusCompleted
		if out.Err != nil || out.Cancelled {
			status = storage.StatusFailed
		}
	}
	sm.setStatus(saveCtx, sess, status)
	return out, nil
}

func (sm *SessionManager) setStatus(ctx context.Context, sess *storage.Session, status storage.SessionStatus) {
	sess.Status = status
	if err := sm.store.UpdateSession(ctx, sess); err != nil {
		slog.Error("failed to update session", "session", sess.ID, "error", err)
	}
}

// Remove removes an active session and cancels any in-flight work.
func (sm *SessionManager) Remove(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if as, ok := sm.sessions[sessionID]; ok {
		as.Cancel()
		delete(sm.sessions, sessionID)
	}
}

// CloseAll cancels all active sessions.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, as := range sm.sessions {
		as.Cancel()
		delete(sm.sessions, id)
	}
}

// generateTitle creates a session title from the first user message.
func generateTitle(firstMessage string) string {
	t := strings.Join(strings.Fields(firstMessage), " ")
	if r := []rune(t); len(r) > 80 {
		t = string(r[:80]) + "..."
	}
	return t
}
