package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type    string `json:"type"` // message, script, cancel
	Content string `json:"content,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Turns   int    `json:"turns,omitempty"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type    string             `json:"type"` // message, state, done, error
	Content string             `json:"content,omitempty"`
	Message *llm.Message       `json:"message,omitempty"`
	State   orchestrator.State `json:"state,omitempty"`
	Result  *cycleResponse     `json:"result,omitempty"`
}

// wsConn serialises writes to one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v wsOutgoing) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("websocket marshal error", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("websocket write error", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify session exists
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	// Get or create active session
	as, err := s.sessions.GetOrCreate(r.Context(), sess)
	if err != nil {
		c.send(wsOutgoing{Type: "error", Content: "initializing session: " + err.Error()})
		return
	}

	// In-flight cycles end when the client goes away.
	connCtx, disconnect := context.WithCancel(context.Background())
	var running sync.WaitGroup
	defer func() {
		disconnect()
		running.Wait()
	}()

	// Read loop
	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}

		switch msg.Type {
		case "cancel":
			as.Cancel()
		case "message", "script":
			if msg.Type == "message" && msg.Content == "" {
				c.send(wsOutgoing{Type: "error", Content: "invalid message"})
				continue
			}
			running.Add(1)
			go func(msg wsIncoming) {
				defer running.Done()
				s.runWebSocketCycle(connCtx, c, as, msg)
			}(msg)
		default:
			c.send(wsOutgoing{Type: "error", Content: "invalid message"})
		}
	}
}

func (s *Server) runWebSocketCycle(ctx context.Context, c *wsConn, as *ActiveSession, msg wsIncoming) {
	var appended []llm.Message
	obs := Observer{
		OnMessage: func(m llm.Message) {
			appended = append(appended, m)
			c.send(wsOutgoing{Type: "message", Message: &m})
		},
		OnState: func(st orchestrator.State) {
			c.send(wsOutgoing{Type: "state", State: st})
		},
	}

	var (
		out orchestrator.Outcome
		err error
	)
	if msg.Type == "script" {
		out, err = s.sessions.RunScript(ctx, as, msg.Topic, msg.Turns, obs)
	} else {
		out, err = s.sessions.Send(ctx, as, msg.Content, obs)
	}
	if err != nil {
		c.send(wsOutgoing{Type: "error", Content: err.Error()})
		return
	}
	if out.Cancelled {
		c.send(wsOutgoing{Type: "error", Content: "interrupted"})
	}
	resp := newCycleResponse(appended, out)
	c.send(wsOutgoing{Type: "done", Result: &resp})
}
