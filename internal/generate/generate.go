// Package generate holds one function per capability. Each builds a system
// instruction, history and tool set, resolves its capability and returns
// plain text, a typed value or an *llm.Result.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/tools"
)

// Generator runs capability calls against a router.
type Generator struct {
	router        *capability.Router
	contextTokens int
}

// New creates a Generator. contextTokens bounds the history sent with
// multi-turn calls; zero uses the default.
func New(router *capability.Router, contextTokens int) *Generator {
	if contextTokens <= 0 {
		contextTokens = defaultContextTokens
	}
	return &Generator{router: router, contextTokens: contextTokens}
}

// Router returns the router the generator resolves against.
func (g *Generator) Router() *capability.Router { return g.router }

func (g *Generator) resolve(name capability.Name) (capability.Resolution, error) {
	return g.router.Resolve(name)
}

// annotate names the capability on configuration errors raised below the
// router. The provider's error may be shared, so a copy is returned.
func annotate(name capability.Name, err error) error {
	var ce *llm.ConfigError
	if errors.As(err, &ce) && ce.Capability == "" {
		c := *ce
		c.Capability = string(name)
		return &c
	}
	return err
}

func (g *Generator) text(ctx context.Context, name capability.Name, system, prompt string) (string, error) {
	res, err := g.resolve(name)
	if err != nil {
		return "", err
	}
	out, err := res.Provider.GenerateText(ctx, llm.TextRequest{Tier: res.Tier, Prompt: prompt, System: system})
	if err != nil {
		return "", annotate(name, err)
	}
	return strings.TrimSpace(out), nil
}

func (g *Generator) withTools(ctx context.Context, name capability.Name, req llm.ToolRequest) (*llm.Result, error) {
	res, err := g.resolve(name)
	if err != nil {
		return nil, err
	}
	req.Tier = res.Tier
	req.History = window(req.History, g.contextTokens)
	out, err := res.Provider.GenerateWithTools(ctx, req)
	if err != nil {
		return nil, annotate(name, err)
	}
	return out, nil
}

// AgentOptions adjusts a single agent turn.
type AgentOptions struct {
	// Command is a slash command or explicit instruction for this turn only.
	Command string
	// SystemOverride replaces the agent's own instruction.
	SystemOverride string
	// Participants are the other agents present, for multi-agent context.
	Participants []string
	// WebSearch enables vendor search grounding where supported.
	WebSearch bool
	// ExtraTools are offered alongside the built-in agent tools.
	ExtraTools []llm.ToolDef
}

// AgentResponse asks agent to reply to history. The agent may call
// search_notes and create_note.
func (g *Generator) AgentResponse(ctx context.Context, agent persona.Agent, history []llm.Message, opts AgentOptions) (*llm.Result, error) {
	system := agent.SystemInstruction
	if opts.SystemOverride != "" {
		system = opts.SystemOverride
	}

	var b strings.Builder
	b.WriteString(system)
	fmt.Fprintf(&b, "\n\nYour name is %s.", agent.Name)
	if others := without(opts.Participants, agent.Name); len(others) > 0 {
		fmt.Fprintf(&b, " You are in a group discussion with the user and %s. "+
			"Messages from other agents are prefixed with their name in brackets. "+
			"Do not prefix your own reply and do not speak for anyone else.", strings.Join(others, ", "))
	}
	b.WriteString("\nUse search_notes when the user's own notes could inform your answer, " +
		"and create_note only when the user asks you to save something or a conclusion is worth keeping.")
	if opts.Command != "" {
		fmt.Fprintf(&b, "\n\nFor this reply only, follow this instruction: %s", opts.Command)
	}

	return g.withTools(ctx, capability.AgentReasoning, llm.ToolRequest{
		History:   history,
		Tools:     append(tools.Declarations(tools.AgentTools...), opts.ExtraTools...),
		System:    b.String(),
		WebSearch: opts.WebSearch,
	})
}

// ModeratorResponse asks the moderator who should speak next. The reply must
// be a single select_next_speaker or pass_control_to_user call; checking that
// is the caller's job.
func (g *Generator) ModeratorResponse(ctx context.Context, history []llm.Message, available, spoken, mentioned []string) (*llm.Result, error) {
	var b strings.Builder
	b.WriteString("You are the moderator of a discussion between the user and a panel of AI agents. " +
		"You never answer the user yourself. Each time you are asked, call exactly one tool: " +
		"select_next_speaker to give the floor to one agent, or pass_control_to_user when the user's " +
		"latest message has been answered well enough or the discussion needs the user's input.\n\n")
	fmt.Fprintf(&b, "Available agents: %s.\n", strings.Join(available, ", "))
	if len(spoken) > 0 {
		fmt.Fprintf(&b, "Already spoke since the user's last message: %s. "+
			"Pick one of them again only if they have something new to add.\n", strings.Join(spoken, ", "))
	} else {
		b.WriteString("No agent has spoken since the user's last message.\n")
	}
	if len(mentioned) > 0 {
		fmt.Fprintf(&b, "The user mentioned: %s. Prefer them unless another agent is clearly better placed.\n",
			strings.Join(mentioned, ", "))
	}
	b.WriteString("Use agent names exactly as listed.")

	return g.withTools(ctx, capability.Moderator, llm.ToolRequest{
		History:     history,
		Tools:       tools.Declarations(tools.ModeratorTools...),
		System:      b.String(),
		RequireTool: true,
	})
}

// AgentCreationTurn continues a conversation whose goal is to define a new
// agent. The model calls create_new_agent once the agent is clear.
func (g *Generator) AgentCreationTurn(ctx context.Context, history []llm.Message) (*llm.Result, error) {
	system := "You help the user design a new AI agent for their note-taking workspace. " +
		"Ask short questions, one at a time, about the agent's purpose, personality and name. " +
		"When you have enough to write a complete system instruction, call create_new_agent. " +
		"Do not call it before the user has agreed on a name."
	return g.withTools(ctx, capability.AgentCreation, llm.ToolRequest{
		History: history,
		Tools:   tools.Declarations(tools.AuthoringTools...),
		System:  system,
	})
}

// StreamChat streams a plain chat reply.
func (g *Generator) StreamChat(ctx context.Context, history []llm.Message, system string) (llm.Stream, error) {
	res, err := g.resolve(capability.Chat)
	if err != nil {
		return nil, err
	}
	if system == "" {
		system = "You are a helpful assistant inside a note-taking app. Answer clearly and use markdown where it helps."
	}
	s, err := res.Provider.GenerateTextStream(ctx, llm.StreamRequest{
		Tier:    res.Tier,
		History: window(history, g.contextTokens),
		System:  system,
	})
	if err != nil {
		return nil, annotate(capability.Chat, err)
	}
	return s, nil
}

func without(names []string, name string) []string {
	var out []string
	for _, n := range names {
		if !strings.EqualFold(n, name) {
			out = append(out, n)
		}
	}
	return out
}
