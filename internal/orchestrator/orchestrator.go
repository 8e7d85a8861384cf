// Package orchestrator drives multi-agent conversations: a moderator picks
// each next speaker, agents reply and call tools, and tool results are fed
// back into the history until the moderator hands control to the user.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/tools"
)

// State is a step of the moderator loop.
type State string

const (
	StateAwaitingModerator State = "awaiting_moderator_decision"
	StateAgentSpeaking     State = "agent_speaking"
	StateExecutingTools    State = "executing_tool_calls"
	StateAwaitingUser      State = "awaiting_user"
	StateError             State = "error"
)

const defaultMaxDecisions = 8

var (
	ErrProtocolViolation = errors.New("moderator protocol violation")
	ErrUnknownAgent      = errors.New("unknown agent")
)

// Responder produces model turns. *generate.Generator implements it.
type Responder interface {
	AgentResponse(ctx context.Context, agent persona.Agent, history []llm.Message, opts generate.AgentOptions) (*llm.Result, error)
	ModeratorResponse(ctx context.Context, history []llm.Message, available, spoken, mentioned []string) (*llm.Result, error)
	DebateTurn(ctx context.Context, topic string, speaker, opponent persona.Agent, history []llm.Message) (string, error)
	PodcastTurn(ctx context.Context, topic string, speaker, partner persona.Agent, isHost bool, history []llm.Message) (string, error)
	Synthesis(ctx context.Context, topic, first, second string, history []llm.Message) (*generate.SynthesisResult, error)
}

// Conversation is the state one session hands to the orchestrator. History
// is only ever appended to.
type Conversation struct {
	History      []llm.Message
	Participants []persona.Agent
}

// Outcome reports how a cycle ended. State is always StateAwaitingUser.
type Outcome struct {
	State     State
	Turns     int
	Truncated bool
	Cancelled bool
	Err       error
}

// Options configures an Orchestrator.
type Options struct {
	// MaxDecisions bounds moderator decisions per user message.
	MaxDecisions int
	// ExtraTools are offered to agents in addition to the built-in tools.
	ExtraTools []llm.ToolDef
	WebSearch  bool
}

// Orchestrator runs conversation cycles. It holds no per-session state and
// may serve several sessions, each driven by one goroutine at a time.
type Orchestrator struct {
	responder    Responder
	exec         tools.Executor
	maxDecisions int
	extraTools   []llm.ToolDef
	webSearch    bool

	OnMessage func(msg llm.Message)
	OnState   func(state State)
}

// New creates an Orchestrator.
func New(responder Responder, exec tools.Executor, opts Options) *Orchestrator {
	if opts.MaxDecisions <= 0 {
		opts.MaxDecisions = defaultMaxDecisions
	}
	return &Orchestrator{
		responder:    responder,
		exec:         exec,
		maxDecisions: opts.MaxDecisions,
		extraTools:   opts.ExtraTools,
		webSearch:    opts.WebSearch,
	}
}

// MaxDecisions returns the per-cycle moderator decision bound.
func (o *Orchestrator) MaxDecisions() int { return o.maxDecisions }

func (o *Orchestrator) setState(s State) {
	if o.OnState != nil {
		o.OnState(s)
	}
}

func (o *Orchestrator) appendMessage(conv *Conversation, msg llm.Message) {
	conv.History = append(conv.History, msg)
	if o.OnMessage != nil {
		o.OnMessage(msg)
	}
}

// RunCycle appends the user's message and lets the moderator run the
// discussion until it passes control back, the decision bound is reached,
// an error occurs or ctx is cancelled.
func (o *Orchestrator) RunCycle(ctx context.Context, conv *Conversation, userText string) Outcome {
	o.appendMessage(conv, llm.UserMessage(userText))

	dir := persona.NewDirectory(conv.Participants...)
	available := names(dir.All())
	mentioned := persona.ResolveMentions(userText, dir.All())
	var spoken []string
	turns := 0

	for decisions := 0; ; decisions++ {
		if err := ctx.Err(); err != nil {
			return o.cancelled(turns, err)
		}
		if decisions >= o.maxDecisions {
			slog.Info("moderator decision bound reached", "max", o.maxDecisions, "turns", turns)
			o.appendMessage(conv, llm.ModelMessage(persona.ModeratorName,
				fmt.Sprintf("Let's pause here: the panel has taken %d turns. Send a message to continue the discussion.", turns)))
			o.setState(StateAwaitingUser)
			return Outcome{State: StateAwaitingUser, Turns: turns, Truncated: true}
		}

		o.setState(StateAwaitingModerator)
		res, err := o.responder.ModeratorResponse(ctx, conv.History, available, spoken, mentioned)
		if err != nil {
			return o.fail(ctx, conv, turns, fmt.Errorf("moderator: %w", err))
		}
		agent, pass, err := decide(res, dir)
		if err != nil {
			return o.fail(ctx, conv, turns, err)
		}
		if pass {
			o.setState(StateAwaitingUser)
			return Outcome{State: StateAwaitingUser, Turns: turns}
		}

		if err := o.speak(ctx, conv, agent, available); err != nil {
			return o.fail(ctx, conv, turns, err)
		}
		turns++
		if !contains(spoken, agent.Name) {
			spoken = append(spoken, agent.Name)
		}
	}
}

// RunRoundRobin appends the user's message and lets every participant reply
// once, in order, without a moderator.
func (o *Orchestrator) RunRoundRobin(ctx context.Context, conv *Conversation, userText string) Outcome {
	o.appendMessage(conv, llm.UserMessage(userText))
	available := names(conv.Participants)
	turns := 0
	for _, agent := range conv.Participants {
		if err := ctx.Err(); err != nil {
			return o.cancelled(turns, err)
		}
		if err := o.speak(ctx, conv, agent, available); err != nil {
			return o.fail(ctx, conv, turns, err)
		}
		turns++
	}
	o.setState(StateAwaitingUser)
	return Outcome{State: StateAwaitingUser, Turns: turns}
}

// decide validates a moderator reply. It must be exactly one call to
// select_next_speaker naming a participant, or to pass_control_to_user.
func decide(res *llm.Result, dir *persona.Directory) (persona.Agent, bool, error) {
	if len(res.ToolCalls) != 1 {
		return persona.Agent{}, false, fmt.Errorf("%w: expected one tool call, got %d", ErrProtocolViolation, len(res.ToolCalls))
	}
	call := res.ToolCalls[0]
	switch call.Name {
	case tools.PassControlToUser:
		slog.Debug("moderator passed control to user", "reason", call.StringArg("reason"))
		return persona.Agent{}, true, nil
	case tools.SelectNextSpeaker:
		name := call.StringArg("agent_name")
		agent, ok := dir.ByName(strings.Trim(strings.TrimSpace(name), "@[]"))
		if !ok {
			return persona.Agent{}, false, fmt.Errorf("%w: moderator selected %q", ErrUnknownAgent, name)
		}
		slog.Debug("moderator selected speaker", "agent", agent.Name, "reason", call.StringArg("reason"))
		return agent, false, nil
	}
	return persona.Agent{}, false, fmt.Errorf("%w: unexpected tool %q", ErrProtocolViolation, call.Name)
}

// speak runs one agent turn and any tool calls it makes.
func (o *Orchestrator) speak(ctx context.Context, conv *Conversation, agent persona.Agent, participants []string) error {
	o.setState(StateAgentSpeaking)
	res, err := o.responder.AgentResponse(ctx, agent, conv.History, generate.AgentOptions{
		Participants: participants,
		ExtraTools:   o.extraTools,
		WebSearch:    o.webSearch,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", agent.Name, err)
	}

	msg := llm.ModelMessage(agent.Name, res.Text)
	msg.ToolCalls = res.ToolCalls
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		slog.Warn("agent produced an empty reply", "agent", agent.Name)
		return nil
	}
	o.appendMessage(conv, msg)
	if len(msg.ToolCalls) == 0 {
		return nil
	}

	o.setState(StateExecutingTools)
	o.executeCalls(ctx, conv, msg.ToolCalls)
	return nil
}

// executeCalls appends exactly one result per call. Calls left unexecuted
// after cancellation still get a result so the history stays well formed.
func (o *Orchestrator) executeCalls(ctx context.Context, conv *Conversation, calls []llm.ToolCall) {
	for _, tc := range calls {
		var result string
		if ctx.Err() != nil {
			result = "error: cancelled"
		} else {
			result = o.executeTool(ctx, tc)
		}
		o.appendMessage(conv, llm.ToolResultMessage(tc.ID, result))
	}
}

func (o *Orchestrator) executeTool(ctx context.Context, tc llm.ToolCall) string {
	if o.exec == nil {
		return fmt.Sprintf("error: unknown tool %q", tc.Name)
	}
	result, err := o.exec.Execute(ctx, tc)
	if err != nil {
		slog.Warn("tool call failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("error: %s", err)
	}
	return result
}

// fail appends the user-visible error message and ends the cycle.
// Cancellation is not an error the user needs to see.
func (o *Orchestrator) fail(ctx context.Context, conv *Conversation, turns int, err error) Outcome {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return o.cancelled(turns, err)
	}
	slog.Error("conversation cycle failed", "error", err)
	o.setState(StateError)
	o.appendMessage(conv, llm.ModelMessage(persona.ModeratorName, ErrorMessage(err)))
	o.setState(StateAwaitingUser)
	return Outcome{State: StateAwaitingUser, Turns: turns, Err: err}
}

func (o *Orchestrator) cancelled(turns int, err error) Outcome {
	slog.Info("conversation cycle cancelled", "turns", turns)
	o.setState(StateAwaitingUser)
	return Outcome{State: StateAwaitingUser, Turns: turns, Cancelled: true, Err: err}
}

// ErrorMessage is the chat text shown in place of a failed response.
func ErrorMessage(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error: %v. Send another message to try again.", err)
}

func names(agents []persona.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
