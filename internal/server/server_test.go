package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/llm/llmtest"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/queue"
	"github.com/michaelbrown/notemind/internal/retrieval"
	"github.com/michaelbrown/notemind/internal/storage"
	"github.com/michaelbrown/notemind/internal/storage/sqlite"
	"github.com/michaelbrown/notemind/internal/tools"
	"github.com/michaelbrown/notemind/internal/usage"
)

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	store  *sqlite.SQLiteStore
	titles *queue.Queue
}

func newTestEnv(t *testing.T, m *llmtest.MockProvider) *testEnv {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	router := capability.NewRouter(capability.BuildScheme("mock"), map[string]llm.Provider{"mock": m})
	gen := generate.New(router, 0)
	retriever := retrieval.New(router)
	titles := queue.New("titles", TitleWork(store, gen), 1, 0)
	t.Cleanup(titles.Close)

	srv := New(Deps{
		Store:      store,
		Generator:  gen,
		Retriever:  retriever,
		Dispatcher: orchestrator.NewDispatcher(store, retriever, nil),
		Ledger:     usage.NewLedger(nil),
		Titles:     titles,
		Sessions:   SessionOptions{Orchestrator: orchestrator.Options{MaxDecisions: 4}},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, store: store, titles: titles}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// moderatorScript selects each name in turn, then passes control.
func moderatorScript(agentReply string, speakers ...string) func(context.Context, llm.ToolRequest) (*llm.Result, error) {
	var mu sync.Mutex
	i := 0
	return func(_ context.Context, req llm.ToolRequest) (*llm.Result, error) {
		if !req.RequireTool {
			return &llm.Result{Text: agentReply}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if i < len(speakers) {
			name := speakers[i]
			i++
			return &llm.Result{ToolCalls: []llm.ToolCall{{ID: "m", Name: tools.SelectNextSpeaker, Args: map[string]any{"agent_name": name}}}}, nil
		}
		i = 0
		return &llm.Result{ToolCalls: []llm.ToolCall{{ID: "p", Name: tools.PassControlToUser, Args: map[string]any{"reason": "done"}}}}, nil
	}
}

func TestNotesAPI(t *testing.T) {
	env := newTestEnv(t, llmtest.NewMockProvider("mock"))

	var created notes.Note
	if code := env.do(t, "POST", "/api/notes", noteRequest{Title: "Solar", Content: "Panels"}, &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.ID == "" {
		t.Fatal("created note has no id")
	}

	var list []notes.Note
	env.do(t, "GET", "/api/notes", nil, &list)
	if len(list) != 1 || list[0].Title != "Solar" {
		t.Errorf("list = %+v", list)
	}

	if code := env.do(t, "POST", "/api/notes", noteRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("empty note status = %d, want 400", code)
	}

	if code := env.do(t, "DELETE", "/api/notes/"+created.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	if code := env.do(t, "GET", "/api/notes/"+created.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", code)
	}
}

func TestUntitledNoteGetsTitle(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.TextFunc = func(context.Context, llm.TextRequest) (string, error) { return `"Garden Plans"`, nil }
	env := newTestEnv(t, m)

	var created notes.Note
	env.do(t, "POST", "/api/notes", noteRequest{Content: "Plant tomatoes in May."}, &created)
	env.titles.Wait()

	got, err := env.store.GetNote(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Garden Plans" {
		t.Errorf("title = %q, want Garden Plans", got.Title)
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	env := newTestEnv(t, m)

	var ans retrieval.Answer
	if code := env.do(t, "POST", "/api/search", searchRequest{Query: "anything"}, &ans); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if ans.Text != retrieval.NothingFound {
		t.Errorf("answer = %q", ans.Text)
	}
	if m.CallCount() != 0 {
		t.Errorf("made %d model calls, want 0", m.CallCount())
	}
}

func TestSendMessageModerated(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.ToolsFunc = moderatorScript("Ship the smallest version first.", "Pragmatist")
	env := newTestEnv(t, m)

	var sess storage.Session
	env.do(t, "POST", "/api/sessions", createSessionRequest{ParticipantIDs: []string{persona.PragmatistID, persona.VisionaryID}}, &sess)

	var resp cycleResponse
	if code := env.do(t, "POST", "/api/sessions/"+sess.ID+"/messages", sendMessageRequest{Content: "Should I launch?"}, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.State != orchestrator.StateAwaitingUser || resp.Turns != 1 {
		t.Errorf("outcome = %+v", resp)
	}
	if len(resp.Messages) != 2 || resp.Messages[1].Persona != "Pragmatist" {
		t.Fatalf("messages = %+v", resp.Messages)
	}

	stored, _ := env.store.LoadMessages(context.Background(), sess.ID)
	if len(stored) != 2 {
		t.Errorf("stored %d messages, want 2", len(stored))
	}
	got, _ := env.store.GetSession(context.Background(), sess.ID)
	if got.Title != "Should I launch?" || got.Status != storage.StatusActive {
		t.Errorf("session = %+v", got)
	}
}

func TestSendMessageUnknownAgent(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.ToolsFunc = moderatorScript("unused", "Nobody")
	env := newTestEnv(t, m)

	var sess storage.Session
	env.do(t, "POST", "/api/sessions", createSessionRequest{}, &sess)

	var resp cycleResponse
	env.do(t, "POST", "/api/sessions/"+sess.ID+"/messages", sendMessageRequest{Content: "hi"}, &resp)
	if resp.Error == "" {
		t.Fatal("expected an error in the outcome")
	}
	if len(resp.Messages) != 2 || resp.Messages[1].Persona != persona.ModeratorName {
		t.Fatalf("messages = %+v, want user + one moderator error", resp.Messages)
	}
	if !strings.HasPrefix(resp.Messages[1].Content, "Sorry, I encountered an error") {
		t.Errorf("error message = %q", resp.Messages[1].Content)
	}
}

func TestRunDebateScript(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.JSONFunc = func(context.Context, llm.JSONRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"coreTension":"speed vs scope","keyPointsPragmatist":["ship"],"keyPointsVisionary":["dream"],"nextSteps":["decide"]}`), nil
	}
	env := newTestEnv(t, m)

	var sess storage.Session
	env.do(t, "POST", "/api/sessions", createSessionRequest{Mode: storage.ModeDebate, Topic: "remote work"}, &sess)

	var resp cycleResponse
	if code := env.do(t, "POST", "/api/sessions/"+sess.ID+"/script", runScriptRequest{Turns: 2}, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("got %d messages, want 2 turns + synthesis", len(resp.Messages))
	}
	if _, ok := orchestrator.SynthesisFrom(resp.Messages[2]); !ok {
		t.Error("last message is not a synthesis")
	}
	got, _ := env.store.GetSession(context.Background(), sess.ID)
	if got.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}

	var n notes.Note
	if code := env.do(t, "POST", "/api/sessions/"+sess.ID+"/synthesis/note", nil, &n); code != http.StatusCreated {
		t.Fatalf("synthesis note status = %d", code)
	}
	if n.Title != "Synthesis: remote work" {
		t.Errorf("note title = %q", n.Title)
	}
}

func TestScriptRejectedForGeneralSession(t *testing.T) {
	env := newTestEnv(t, llmtest.NewMockProvider("mock"))
	var sess storage.Session
	env.do(t, "POST", "/api/sessions", createSessionRequest{}, &sess)
	if code := env.do(t, "POST", "/api/sessions/"+sess.ID+"/script", runScriptRequest{Topic: "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, llmtest.NewMockProvider("mock"))
	tests := []struct {
		name string
		req  createSessionRequest
	}{
		{"bad mode", createSessionRequest{Mode: "karaoke"}},
		{"bad discussion mode", createSessionRequest{DiscussionMode: "chaos"}},
		{"no known participants", createSessionRequest{ParticipantIDs: []string{"ghost"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.do(t, "POST", "/api/sessions", tt.req, nil); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}
}

func TestAgentsAPI(t *testing.T) {
	env := newTestEnv(t, llmtest.NewMockProvider("mock"))

	var a persona.Agent
	if code := env.do(t, "POST", "/api/agents", agentRequest{Name: "Economist", SystemInstruction: "Think in incentives."}, &a); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if code := env.do(t, "POST", "/api/agents", agentRequest{Name: "skeptic", SystemInstruction: "x"}, nil); code != http.StatusConflict {
		t.Errorf("built-in name clash status = %d, want 409", code)
	}

	var all []persona.Agent
	env.do(t, "GET", "/api/agents", nil, &all)
	if len(all) != len(persona.Defaults())+1 || all[len(all)-1].Name != "Economist" {
		t.Errorf("agents = %d, last = %+v", len(all), all[len(all)-1])
	}

	if code := env.do(t, "DELETE", "/api/agents/"+persona.SkepticID, nil, nil); code != http.StatusBadRequest {
		t.Errorf("delete built-in status = %d, want 400", code)
	}
	if code := env.do(t, "DELETE", "/api/agents/"+a.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
}

func TestComposeAgent(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.ToolsFunc = func(context.Context, llm.ToolRequest) (*llm.Result, error) {
		return &llm.Result{ToolCalls: []llm.ToolCall{{ID: "c", Name: tools.CreateNewAgent, Args: map[string]any{
			"name": "Gardener", "description": "Knows plants", "systemInstruction": "Talk about plants.",
		}}}}, nil
	}
	env := newTestEnv(t, m)

	var resp composeResponse
	req := composeRequest{Messages: []llm.Message{llm.UserMessage("I want a plant expert")}}
	if code := env.do(t, "POST", "/api/agents/compose", req, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Agent == nil || resp.Agent.Name != "Gardener" {
		t.Fatalf("agent = %+v", resp.Agent)
	}
	saved, _ := env.store.ListAgents(context.Background())
	if len(saved) != 1 {
		t.Errorf("saved %d agents, want 1", len(saved))
	}
}

func TestSchemeAndUsage(t *testing.T) {
	env := newTestEnv(t, llmtest.NewMockProvider("mock"))

	var table []capability.Entry
	env.do(t, "GET", "/api/scheme", nil, &table)
	if len(table) != len(capability.BaseTiers) {
		t.Errorf("scheme rows = %d, want %d", len(table), len(capability.BaseTiers))
	}
	var snap usage.Snapshot
	if code := env.do(t, "GET", "/api/usage", nil, &snap); code != http.StatusOK {
		t.Errorf("usage status = %d", code)
	}
}

func TestSessionNotFound(t *testing.T) {
	env := newTestEnv(t, llmtest.NewMockProvider("mock"))
	if code := env.do(t, "GET", "/api/sessions/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestWebSocketCycle(t *testing.T) {
	m := llmtest.NewMockProvider("mock")
	m.ToolsFunc = moderatorScript("Hello from the panel.", "Visionary")
	env := newTestEnv(t, m)

	var sess storage.Session
	env.do(t, "POST", "/api/sessions", createSessionRequest{}, &sess)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/sessions/" + sess.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsIncoming{Type: "message", Content: "Dream big?"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var personas []string
	for {
		var ev wsOutgoing
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch ev.Type {
		case "message":
			personas = append(personas, ev.Message.Persona)
		case "error":
			t.Fatalf("error event: %s", ev.Content)
		}
		if ev.Type == "done" {
			if ev.Result == nil || ev.Result.Turns != 1 {
				t.Errorf("result = %+v", ev.Result)
			}
			break
		}
	}
	if len(personas) != 2 || personas[1] != "Visionary" {
		t.Errorf("personas = %v, want user then Visionary", personas)
	}
}
