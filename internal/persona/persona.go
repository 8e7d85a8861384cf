// Package persona defines the AI agents that take part in conversations.
package persona

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ModeratorName is the persona used for orchestration messages.
const ModeratorName = "Moderator"

// Agent is a named set of fixed behavioural instructions.
type Agent struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	SystemInstruction string    `json:"systemInstruction"`
	Icon              string    `json:"icon"`
	Color             string    `json:"color"`
	IsCustom          bool      `json:"isCustom"`
	CreatedAt         time.Time `json:"createdAt"`
}

var ErrInvalidAgent = errors.New("invalid agent")

// Validate checks the fields every agent needs.
func (a Agent) Validate() error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	case strings.EqualFold(strings.TrimSpace(a.Name), ModeratorName):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAgent, ModeratorName)
	case strings.TrimSpace(a.SystemInstruction) == "":
		return fmt.Errorf("%w: system instruction is required", ErrInvalidAgent)
	}
	return nil
}

// NewCustom builds a custom agent with a fresh id.
func NewCustom(name, description, instruction, icon, color string) (Agent, error) {
	a := Agent{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(name),
		Description:       strings.TrimSpace(description),
		SystemInstruction: strings.TrimSpace(instruction),
		Icon:              icon,
		Color:             color,
		IsCustom:          true,
		CreatedAt:         time.Now().UTC(),
	}
	if a.Icon == "" {
		a.Icon = "🤖"
	}
	if a.Color == "" {
		a.Color = "#9CA3AF"
	}
	if err := a.Validate(); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// FromToolArgs builds a custom agent from create_new_agent arguments.
func FromToolArgs(args map[string]any) (Agent, error) {
	str := func(k string) string {
		s, _ := args[k].(string)
		return s
	}
	return NewCustom(str("name"), str("description"), str("systemInstruction"), str("icon"), str("color"))
}

// Built-in agent ids are stable so sessions can reference them.
const (
	PragmatistID = "builtin-pragmatist"
	VisionaryID  = "builtin-visionary"
	ResearcherID = "builtin-researcher"
	SkepticID    = "builtin-skeptic"
	ScribeID     = "builtin-scribe"
	HostID       = "builtin-host"
)

// Defaults returns the built-in agents.
func Defaults() []Agent {
	return []Agent{
		{
			ID:          PragmatistID,
			Name:        "Pragmatist",
			Description: "Grounds ideas in constraints, costs and next steps.",
			SystemInstruction: "You are the Pragmatist. You care about what can be done this week with the resources at hand. " +
				"Point out constraints, trade-offs and risks, and always end with something concrete the user can do.",
			Icon:  "🛠️",
			Color: "#60A5FA",
		},
		{
			ID:          VisionaryID,
			Name:        "Visionary",
			Description: "Stretches ideas toward their most ambitious form.",
			SystemInstruction: "You are the Visionary. You look past current limits and ask what the idea could become. " +
				"Connect it to bigger trends and bolder possibilities, but stay specific rather than vague.",
			Icon:  "🔭",
			Color: "#C084FC",
		},
		{
			ID:          ResearcherID,
			Name:        "Researcher",
			Description: "Looks things up in the user's notes before answering.",
			SystemInstruction: "You are the Researcher. Before making claims about the user's own work, use the search_notes tool " +
				"and cite what you find. Say plainly when the notes do not cover something.",
			Icon:  "📚",
			Color: "#34D399",
		},
		{
			ID:          SkepticID,
			Name:        "Skeptic",
			Description: "Challenges assumptions and asks for evidence.",
			SystemInstruction: "You are the Skeptic. Identify the weakest assumption in what has been said and test it. " +
				"Be direct but fair, and acknowledge good arguments.",
			Icon:  "🧐",
			Color: "#F87171",
		},
		{
			ID:          ScribeID,
			Name:        "Scribe",
			Description: "Captures conclusions as new notes.",
			SystemInstruction: "You are the Scribe. When the discussion reaches a conclusion, a plan or a useful list, " +
				"record it with the create_note tool and tell the user what you saved.",
			Icon:  "✍️",
			Color: "#FBBF24",
		},
		{
			ID:          HostID,
			Name:        "Host",
			Description: "Runs a podcast-style conversation and keeps it lively.",
			SystemInstruction: "You are a podcast Host. Ask sharp, curious questions, summarise the guest's points for the audience, " +
				"and keep the conversation moving.",
			Icon:  "🎙️",
			Color: "#F472B6",
		},
	}
}
