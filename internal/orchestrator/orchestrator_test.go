package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/tools"
)

// fakeResponder scripts moderator decisions and agent replies.
type fakeResponder struct {
	decisions []*llm.Result // the last one repeats
	agent     func(ctx context.Context, a persona.Agent, history []llm.Message) (*llm.Result, error)
	synthErr  error

	moderatorCalls int
	spokenSeen     [][]string
	mentionedSeen  [][]string
	agentOpts      []generate.AgentOptions
}

func (f *fakeResponder) ModeratorResponse(_ context.Context, _ []llm.Message, _, spoken, mentioned []string) (*llm.Result, error) {
	f.spokenSeen = append(f.spokenSeen, append([]string(nil), spoken...))
	f.mentionedSeen = append(f.mentionedSeen, mentioned)
	i := f.moderatorCalls
	if i >= len(f.decisions) {
		i = len(f.decisions) - 1
	}
	f.moderatorCalls++
	return f.decisions[i], nil
}

func (f *fakeResponder) AgentResponse(ctx context.Context, a persona.Agent, history []llm.Message, opts generate.AgentOptions) (*llm.Result, error) {
	f.agentOpts = append(f.agentOpts, opts)
	if f.agent != nil {
		return f.agent(ctx, a, history)
	}
	return &llm.Result{Text: a.Name + " says hi"}, nil
}

func (f *fakeResponder) DebateTurn(_ context.Context, _ string, speaker, _ persona.Agent, history []llm.Message) (string, error) {
	return fmt.Sprintf("%s argues (turn %d)", speaker.Name, len(history)+1), nil
}

func (f *fakeResponder) PodcastTurn(_ context.Context, _ string, speaker, _ persona.Agent, isHost bool, history []llm.Message) (string, error) {
	return fmt.Sprintf("%s host=%v (turn %d)", speaker.Name, isHost, len(history)+1), nil
}

func (f *fakeResponder) Synthesis(context.Context, string, string, string, []llm.Message) (*generate.SynthesisResult, error) {
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return &generate.SynthesisResult{
		CoreTension:         "speed vs ambition",
		KeyPointsPragmatist: []string{"ship small"},
		KeyPointsVisionary:  []string{"aim high"},
		NextSteps:           []string{"pick a scope"},
	}, nil
}

// fakeExecutor records calls and answers with canned text.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []llm.ToolCall
}

func (e *fakeExecutor) Execute(_ context.Context, call llm.ToolCall) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	if call.Name == "unknown_tool" {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return "result of " + call.Name, nil
}

func selectSpeaker(name string) *llm.Result {
	return &llm.Result{ToolCalls: []llm.ToolCall{{ID: llm.NewCallID(), Name: tools.SelectNextSpeaker, Args: map[string]any{"agent_name": name, "reason": "relevant"}}}}
}

func passControl() *llm.Result {
	return &llm.Result{ToolCalls: []llm.ToolCall{{ID: llm.NewCallID(), Name: tools.PassControlToUser, Args: map[string]any{"reason": "done"}}}}
}

func panel() []persona.Agent {
	d := persona.Defaults()
	return []persona.Agent{d[0], d[1], d[3]} // Pragmatist, Visionary, Skeptic
}

func moderatorMessages(history []llm.Message) int {
	n := 0
	for _, m := range history {
		if m.Persona == persona.ModeratorName {
			n++
		}
	}
	return n
}

func TestRunCyclePassesControl(t *testing.T) {
	f := &fakeResponder{decisions: []*llm.Result{selectSpeaker("Pragmatist"), passControl()}}
	o := New(f, &fakeExecutor{}, Options{})
	var states []State
	o.OnState = func(s State) { states = append(states, s) }

	conv := &Conversation{Participants: panel()}
	out := o.RunCycle(context.Background(), conv, "How should I plan my week?")

	if out.Err != nil || out.State != StateAwaitingUser || out.Turns != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(conv.History) != 2 {
		t.Fatalf("history has %d messages, want 2", len(conv.History))
	}
	if m := conv.History[1]; m.Role != llm.RoleModel || m.Persona != "Pragmatist" || m.Content != "Pragmatist says hi" {
		t.Errorf("agent message = %+v", m)
	}
	want := []State{StateAwaitingModerator, StateAgentSpeaking, StateAwaitingModerator, StateAwaitingUser}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestWebSearchReachesAgentTurns(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		f := &fakeResponder{decisions: []*llm.Result{selectSpeaker("Pragmatist"), passControl()}}
		o := New(f, &fakeExecutor{}, Options{WebSearch: enabled})

		out := o.RunCycle(context.Background(), &Conversation{Participants: panel()}, "What changed this week?")
		if out.Err != nil {
			t.Fatalf("web search %v: %v", enabled, out.Err)
		}
		if len(f.agentOpts) != 1 || f.agentOpts[0].WebSearch != enabled {
			t.Errorf("web search %v: agent options = %+v", enabled, f.agentOpts)
		}
	}
}

func TestRunCycleTerminatesWithinBudget(t *testing.T) {
	for _, budget := range []int{1, 3, 8} {
		t.Run(fmt.Sprint(budget), func(t *testing.T) {
			f := &fakeResponder{decisions: []*llm.Result{selectSpeaker("Visionary")}}
			o := New(f, &fakeExecutor{}, Options{MaxDecisions: budget})
			conv := &Conversation{Participants: panel()}

			out := o.RunCycle(context.Background(), conv, "go on forever")
			if !out.Truncated || out.Turns != budget || out.State != StateAwaitingUser {
				t.Fatalf("outcome = %+v", out)
			}
			agentTurns := 0
			for _, m := range conv.History {
				if m.Persona == "Visionary" {
					agentTurns++
				}
			}
			if agentTurns > budget {
				t.Errorf("%d agent turns, budget %d", agentTurns, budget)
			}
			last := conv.History[len(conv.History)-1]
			if last.Persona != persona.ModeratorName || !strings.Contains(last.Content, "pause") {
				t.Errorf("last message = %+v, want truncation note", last)
			}
		})
	}
}

func TestUnknownAgentAppendsOneError(t *testing.T) {
	f := &fakeResponder{decisions: []*llm.Result{selectSpeaker("Agent X")}}
	o := New(f, &fakeExecutor{}, Options{})
	var states []State
	o.OnState = func(s State) { states = append(states, s) }
	conv := &Conversation{Participants: panel()}

	out := o.RunCycle(context.Background(), conv, "hello")
	if !errors.Is(out.Err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", out.Err)
	}
	if len(conv.History) != 2 || moderatorMessages(conv.History) != 1 {
		t.Fatalf("history = %+v, want user message plus one error", conv.History)
	}
	if !strings.HasPrefix(conv.History[1].Content, "Sorry, I encountered an error") {
		t.Errorf("error message = %q", conv.History[1].Content)
	}
	if f.moderatorCalls != 1 {
		t.Errorf("moderator called %d times, want 1", f.moderatorCalls)
	}
	if !containsState(states, StateError) || states[len(states)-1] != StateAwaitingUser {
		t.Errorf("states = %v", states)
	}
}

func containsState(states []State, s State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func TestProtocolViolations(t *testing.T) {
	tests := []struct {
		name string
		res  *llm.Result
	}{
		{name: "no tool call", res: &llm.Result{Text: "I think Pragmatist should speak"}},
		{name: "two tool calls", res: &llm.Result{ToolCalls: append(selectSpeaker("Pragmatist").ToolCalls, passControl().ToolCalls...)}},
		{name: "unexpected tool", res: &llm.Result{ToolCalls: []llm.ToolCall{{ID: "x", Name: tools.SearchNotes}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(&fakeResponder{decisions: []*llm.Result{tt.res}}, &fakeExecutor{}, Options{})
			conv := &Conversation{Participants: panel()}
			out := o.RunCycle(context.Background(), conv, "hi")
			if !errors.Is(out.Err, ErrProtocolViolation) {
				t.Fatalf("err = %v, want ErrProtocolViolation", out.Err)
			}
			if moderatorMessages(conv.History) != 1 {
				t.Errorf("want exactly one error message, history = %+v", conv.History)
			}
		})
	}
}

func TestToolCallsArePairedAndHistoryIsAppendOnly(t *testing.T) {
	first := true
	f := &fakeResponder{
		decisions: []*llm.Result{selectSpeaker("Skeptic"), selectSpeaker("Skeptic"), passControl()},
		agent: func(_ context.Context, a persona.Agent, _ []llm.Message) (*llm.Result, error) {
			if first {
				first = false
				return &llm.Result{ToolCalls: []llm.ToolCall{
					{ID: "c1", Name: tools.SearchNotes, Args: map[string]any{"query": "evidence"}},
					{ID: "c2", Name: tools.CreateNote, Args: map[string]any{"title": "t", "content": "c"}},
					{ID: "c3", Name: "unknown_tool"},
				}}, nil
			}
			return &llm.Result{Text: "Based on your notes, no."}, nil
		},
	}
	exec := &fakeExecutor{}
	o := New(f, exec, Options{})

	conv := &Conversation{Participants: panel()}
	var snapshots [][]llm.Message
	o.OnMessage = func(llm.Message) {
		snapshots = append(snapshots, append([]llm.Message(nil), conv.History...))
	}
	out := o.RunCycle(context.Background(), conv, "is this true?")
	if out.Err != nil || out.Turns != 2 {
		t.Fatalf("outcome = %+v", out)
	}

	// Every snapshot is a prefix of the next.
	for i := 1; i < len(snapshots); i++ {
		prev, next := snapshots[i-1], snapshots[i]
		if len(next) != len(prev)+1 {
			t.Fatalf("snapshot %d grew by %d", i, len(next)-len(prev))
		}
		for j := range prev {
			if prev[j].ID != next[j].ID || prev[j].Content != next[j].Content {
				t.Fatalf("message %d changed between snapshots %d and %d", j, i-1, i)
			}
		}
	}

	// Every call has exactly one result and every result follows its call.
	calls := make(map[string]int)
	results := make(map[string]int)
	for i, m := range conv.History {
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = i
		}
		if m.Role == llm.RoleTool {
			at, ok := calls[m.ToolCallID]
			if !ok || at >= i {
				t.Errorf("tool result %q has no prior call", m.ToolCallID)
			}
			results[m.ToolCallID]++
		}
	}
	for id := range calls {
		if results[id] != 1 {
			t.Errorf("call %q has %d results, want 1", id, results[id])
		}
	}
	if len(exec.calls) != 3 {
		t.Errorf("executed %d calls, want 3", len(exec.calls))
	}
	if got := conv.History[4].Content; !strings.HasPrefix(got, "error: unknown tool") {
		t.Errorf("unknown tool result = %q", got)
	}
	if got := f.spokenSeen[1]; len(got) != 1 || got[0] != "Skeptic" {
		t.Errorf("spoken passed to moderator = %v", got)
	}
}

func TestMentionsReachModerator(t *testing.T) {
	f := &fakeResponder{decisions: []*llm.Result{passControl()}}
	o := New(f, &fakeExecutor{}, Options{})
	o.RunCycle(context.Background(), &Conversation{Participants: panel()}, "@skeptic what do you think?")
	if got := f.mentionedSeen[0]; len(got) != 1 || got[0] != "Skeptic" {
		t.Errorf("mentioned = %v, want [Skeptic]", got)
	}
}

func TestCancelledCycleAppendsNoError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeResponder{
		decisions: []*llm.Result{selectSpeaker("Pragmatist")},
		agent: func(ctx context.Context, _ persona.Agent, _ []llm.Message) (*llm.Result, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	o := New(f, &fakeExecutor{}, Options{})
	conv := &Conversation{Participants: panel()}

	out := o.RunCycle(ctx, conv, "hi")
	if !out.Cancelled {
		t.Fatalf("outcome = %+v, want cancelled", out)
	}
	if moderatorMessages(conv.History) != 0 {
		t.Errorf("cancelled cycle appended an error message: %+v", conv.History)
	}
	if f.moderatorCalls != 1 {
		t.Errorf("moderator called %d times after cancel", f.moderatorCalls)
	}
}

func TestCancelledToolsStillPaired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeResponder{
		decisions: []*llm.Result{selectSpeaker("Pragmatist")},
		agent: func(context.Context, persona.Agent, []llm.Message) (*llm.Result, error) {
			cancel()
			return &llm.Result{ToolCalls: []llm.ToolCall{{ID: "a", Name: tools.SearchNotes}, {ID: "b", Name: tools.CreateNote}}}, nil
		},
	}
	exec := &fakeExecutor{}
	conv := &Conversation{Participants: panel()}
	out := New(f, exec, Options{}).RunCycle(ctx, conv, "hi")
	if !out.Cancelled {
		t.Fatalf("outcome = %+v", out)
	}
	if len(exec.calls) != 0 {
		t.Errorf("executed %d calls after cancel", len(exec.calls))
	}
	if n := len(conv.History); n != 4 || conv.History[2].Content != "error: cancelled" || conv.History[3].ToolCallID != "b" {
		t.Errorf("history = %+v", conv.History)
	}
}

func TestRunRoundRobin(t *testing.T) {
	o := New(&fakeResponder{}, &fakeExecutor{}, Options{})
	conv := &Conversation{Participants: panel()}
	out := o.RunRoundRobin(context.Background(), conv, "thoughts?")
	if out.Turns != 3 || out.Err != nil {
		t.Fatalf("outcome = %+v", out)
	}
	var order []string
	for _, m := range conv.History[1:] {
		order = append(order, m.Persona)
	}
	if strings.Join(order, ",") != "Pragmatist,Visionary,Skeptic" {
		t.Errorf("order = %v", order)
	}
}

func TestRunDebate(t *testing.T) {
	d := persona.Defaults()
	o := New(&fakeResponder{}, nil, Options{})
	conv := &Conversation{}

	out := o.RunDebate(context.Background(), conv, "remote work", d[0], d[1], DefaultDebateTurns)
	if out.Err != nil || out.Turns != 6 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(conv.History) != 7 {
		t.Fatalf("history has %d messages, want 7", len(conv.History))
	}
	for i, m := range conv.History[:6] {
		want := d[0].Name
		if i%2 == 1 {
			want = d[1].Name
		}
		if m.Persona != want || m.StructuredContent != nil {
			t.Errorf("message %d persona = %q, want %q", i, m.Persona, want)
		}
	}
	res, ok := SynthesisFrom(conv.History[6])
	if !ok {
		t.Fatalf("last message is not a synthesis: %+v", conv.History[6])
	}
	if res.CoreTension != "speed vs ambition" {
		t.Errorf("core tension = %q", res.CoreTension)
	}
	if got, ok := LastSynthesis(conv.History); !ok || got.NextSteps[0] != "pick a scope" {
		t.Errorf("LastSynthesis = %+v, %v", got, ok)
	}
}

func TestRunPodcastHostOpens(t *testing.T) {
	d := persona.Defaults()
	host, guest := d[5], d[2]
	conv := &Conversation{}
	out := New(&fakeResponder{}, nil, Options{}).RunPodcast(context.Background(), conv, "notes", host, guest, 0)
	if out.Turns != DefaultPodcastTurns || len(conv.History) != DefaultPodcastTurns+1 {
		t.Fatalf("outcome = %+v, history = %d", out, len(conv.History))
	}
	if !strings.HasPrefix(conv.History[0].Content, host.Name+" host=true") ||
		!strings.HasPrefix(conv.History[1].Content, guest.Name+" host=false") {
		t.Errorf("rotation wrong: %q / %q", conv.History[0].Content, conv.History[1].Content)
	}
}

func TestDebateSynthesisFailure(t *testing.T) {
	d := persona.Defaults()
	conv := &Conversation{}
	out := New(&fakeResponder{synthErr: errors.New("boom")}, nil, Options{}).
		RunDebate(context.Background(), conv, "t", d[0], d[1], 2)
	if out.Err == nil {
		t.Fatal("expected error")
	}
	if len(conv.History) != 3 || conv.History[2].Persona != persona.ModeratorName {
		t.Errorf("history = %+v", conv.History)
	}
}

func TestSynthesisNote(t *testing.T) {
	n, err := SynthesisNote("launch", &generate.SynthesisResult{CoreTension: "x", NextSteps: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "Synthesis: launch" {
		t.Errorf("title = %q", n.Title)
	}
	if !strings.Contains(n.Content, "### Next steps\n- a\n- b\n") || strings.Contains(n.Content, "Visionary points") {
		t.Errorf("content = %q", n.Content)
	}
}
