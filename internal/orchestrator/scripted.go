package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/persona"
)

const (
	DefaultDebateTurns  = 6
	DefaultPodcastTurns = 8

	// SynthesisKind tags the structured content of a synthesis message.
	SynthesisKind = "synthesis"
)

type turnFunc func(ctx context.Context, speaker, other persona.Agent, first bool, history []llm.Message) (string, error)

// RunDebate alternates first and second for turns messages, first opening,
// then appends a synthesis message.
func (o *Orchestrator) RunDebate(ctx context.Context, conv *Conversation, topic string, first, second persona.Agent, turns int) Outcome {
	if turns <= 0 {
		turns = DefaultDebateTurns
	}
	return o.runScript(ctx, conv, topic, first, second, turns,
		func(ctx context.Context, speaker, other persona.Agent, _ bool, history []llm.Message) (string, error) {
			return o.responder.DebateTurn(ctx, topic, speaker, other, history)
		})
}

// RunPodcast alternates host and guest for turns messages, host opening,
// then appends a synthesis message.
func (o *Orchestrator) RunPodcast(ctx context.Context, conv *Conversation, topic string, host, guest persona.Agent, turns int) Outcome {
	if turns <= 0 {
		turns = DefaultPodcastTurns
	}
	return o.runScript(ctx, conv, topic, host, guest, turns,
		func(ctx context.Context, speaker, other persona.Agent, isHost bool, history []llm.Message) (string, error) {
			return o.responder.PodcastTurn(ctx, topic, speaker, other, isHost, history)
		})
}

// runScript is the moderator loop with a fixed rotation in place of the
// moderator's choice.
func (o *Orchestrator) runScript(ctx context.Context, conv *Conversation, topic string, a, b persona.Agent, turns int, turn turnFunc) Outcome {
	for i := 0; i < turns; i++ {
		if err := ctx.Err(); err != nil {
			return o.cancelled(i, err)
		}
		speaker, other := a, b
		if i%2 == 1 {
			speaker, other = b, a
		}
		o.setState(StateAgentSpeaking)
		text, err := turn(ctx, speaker, other, i%2 == 0, conv.History)
		if err != nil {
			return o.fail(ctx, conv, i, fmt.Errorf("%s: %w", speaker.Name, err))
		}
		o.appendMessage(conv, llm.ModelMessage(speaker.Name, text))
	}

	if err := ctx.Err(); err != nil {
		return o.cancelled(turns, err)
	}
	o.setState(StateAgentSpeaking)
	res, err := o.responder.Synthesis(ctx, topic, a.Name, b.Name, conv.History)
	if err != nil {
		return o.fail(ctx, conv, turns, fmt.Errorf("synthesis: %w", err))
	}
	msg, err := synthesisMessage(res)
	if err != nil {
		return o.fail(ctx, conv, turns, err)
	}
	o.appendMessage(conv, msg)
	o.setState(StateAwaitingUser)
	return Outcome{State: StateAwaitingUser, Turns: turns}
}

func synthesisMessage(res *generate.SynthesisResult) (llm.Message, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return llm.Message{}, fmt.Errorf("encoding synthesis: %w", err)
	}
	msg := llm.ModelMessage(persona.ModeratorName, SynthesisMarkdown(res))
	msg.StructuredContent = &llm.StructuredContent{Kind: SynthesisKind, Data: data}
	return msg, nil
}

// SynthesisFrom extracts the synthesis carried by msg.
func SynthesisFrom(msg llm.Message) (*generate.SynthesisResult, bool) {
	if msg.StructuredContent == nil || msg.StructuredContent.Kind != SynthesisKind {
		return nil, false
	}
	var res generate.SynthesisResult
	if err := json.Unmarshal(msg.StructuredContent.Data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

// LastSynthesis returns the most recent synthesis in history.
func LastSynthesis(history []llm.Message) (*generate.SynthesisResult, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if res, ok := SynthesisFrom(history[i]); ok {
			return res, true
		}
	}
	return nil, false
}

// SynthesisMarkdown renders a synthesis for display and for notes.
func SynthesisMarkdown(res *generate.SynthesisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Core tension:** %s\n", res.CoreTension)
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	section("Pragmatic points", res.KeyPointsPragmatist)
	section("Visionary points", res.KeyPointsVisionary)
	section("Next steps", res.NextSteps)
	return b.String()
}

// SynthesisNote turns a synthesis into a note the user can keep.
func SynthesisNote(topic string, res *generate.SynthesisResult) (*notes.Note, error) {
	n, err := notes.New("Synthesis: "+topic, SynthesisMarkdown(res))
	if err != nil {
		return nil, err
	}
	n.Tags = []string{SynthesisKind}
	return n, nil
}
