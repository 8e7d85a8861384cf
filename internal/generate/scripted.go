package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
)

// Transcript renders history as "Name: text" lines for single-prompt
// capabilities. Tool traffic is left out.
func Transcript(history []llm.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Content == "" || m.Role == llm.RoleTool {
			continue
		}
		name := "User"
		if m.Role == llm.RoleModel {
			name = m.Persona
			if name == "" {
				name = "Assistant"
			}
		}
		fmt.Fprintf(&b, "%s: %s\n\n", name, strings.TrimSpace(m.Content))
	}
	return strings.TrimSpace(b.String())
}

// DebateTurn produces speaker's next argument against opponent.
func (g *Generator) DebateTurn(ctx context.Context, topic string, speaker, opponent persona.Agent, history []llm.Message) (string, error) {
	prompt := fmt.Sprintf("Debate topic: %s\n\n", topic)
	if t := Transcript(window(history, g.contextTokens)); t != "" {
		prompt += "Debate so far:\n\n" + t + "\n\n"
		prompt += fmt.Sprintf("Respond to %s's latest point and advance your own position.", opponent.Name)
	} else {
		prompt += "Open the debate with your position."
	}
	prompt += " Keep it under 150 words. Do not prefix your reply with your name."
	system := speaker.SystemInstruction + fmt.Sprintf("\n\nYou are %s, debating %s.", speaker.Name, opponent.Name)
	return g.text(ctx, capability.DebateTurn, system, prompt)
}

// PodcastTurn produces the next line of a podcast conversation for speaker.
// The host opens the show; the guest answers.
func (g *Generator) PodcastTurn(ctx context.Context, topic string, speaker, partner persona.Agent, isHost bool, history []llm.Message) (string, error) {
	role := "guest"
	if isHost {
		role = "host"
	}
	prompt := fmt.Sprintf("Podcast episode topic: %s\n\n", topic)
	if t := Transcript(window(history, g.contextTokens)); t != "" {
		prompt += "Conversation so far:\n\n" + t + "\n\n"
		prompt += fmt.Sprintf("Continue as the %s, reacting to %s.", role, partner.Name)
	} else {
		prompt += fmt.Sprintf("Open the episode as the %s and introduce %s.", role, partner.Name)
	}
	prompt += " Sound natural and conversational, 2-5 sentences. Do not prefix your reply with your name."
	system := speaker.SystemInstruction + fmt.Sprintf("\n\nYou are %s, the %s of this podcast.", speaker.Name, role)
	return g.text(ctx, capability.PodcastTurn, system, prompt)
}

// SynthesisResult is the structured wrap-up of a debate or podcast.
type SynthesisResult struct {
	CoreTension         string   `json:"coreTension"`
	KeyPointsPragmatist []string `json:"keyPointsPragmatist"`
	KeyPointsVisionary  []string `json:"keyPointsVisionary"`
	NextSteps           []string `json:"nextSteps"`
}

var synthesisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"coreTension":         map[string]any{"type": "string"},
		"keyPointsPragmatist": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"keyPointsVisionary":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"nextSteps":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"coreTension", "keyPointsPragmatist", "keyPointsVisionary", "nextSteps"},
}

// Synthesis condenses a full transcript. first and second are the two
// sides; their points land in keyPointsPragmatist and keyPointsVisionary.
func (g *Generator) Synthesis(ctx context.Context, topic, first, second string, history []llm.Message) (*SynthesisResult, error) {
	res, err := g.resolve(capability.Synthesis)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Topic: %s\n\nTranscript:\n\n%s\n\n"+
		"Synthesize this discussion. coreTension is one sentence naming the central disagreement. "+
		"keyPointsPragmatist lists %s's strongest points, keyPointsVisionary lists %s's. "+
		"nextSteps lists concrete actions the user could take.", topic, Transcript(history), first, second)
	out, err := llm.DecodeJSON[SynthesisResult](ctx, res.Provider, llm.JSONRequest{
		Tier:   res.Tier,
		Prompt: prompt,
		Schema: synthesisSchema,
		System: "You are a neutral analyst who summarizes discussions faithfully.",
	})
	if err != nil {
		return nil, annotate(capability.Synthesis, err)
	}
	return &out, nil
}
