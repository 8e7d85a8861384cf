package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/charmbracelet/lipgloss"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/persona"
)

const renderWidth = 100

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	resultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// renderer prints conversation messages with each agent in its own colour.
type renderer struct {
	colors map[string]string // persona name -> colour
}

func newRenderer(agents []persona.Agent) *renderer {
	r := &renderer{colors: make(map[string]string)}
	for _, a := range agents {
		r.colors[a.Name] = a.Color
	}
	return r
}

func (r *renderer) personaStyle(name string) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	if c := r.colors[name]; c != "" {
		return style.Foreground(lipgloss.Color(c))
	}
	return style.Foreground(lipgloss.Color("10"))
}

// Message prints one history entry.
func (r *renderer) Message(m llm.Message) {
	switch m.Role {
	case llm.RoleUser:
		fmt.Printf("\n%s %s\n", userStyle.Render("you>"), m.Content)
	case llm.RoleModel:
		name := m.Persona
		if name == "" {
			name = "assistant"
		}
		if m.Content != "" {
			fmt.Printf("\n%s\n%s", r.personaStyle(name).Render(name+">"), renderMarkdown(m.Content))
		}
		for _, tc := range m.ToolCalls {
			fmt.Printf("  %s\n", toolStyle.Render("⚡ "+formatToolCall(tc)))
		}
	case llm.RoleTool:
		lines := strings.Split(strings.TrimSpace(m.Content), "\n")
		preview := lines
		if len(preview) > 8 {
			preview = preview[:8]
		}
		for _, line := range preview {
			fmt.Printf("  %s\n", resultStyle.Render("│ "+line))
		}
		if len(lines) > 8 {
			fmt.Printf("  %s\n", resultStyle.Render(fmt.Sprintf("│ ... (%d more lines)", len(lines)-8)))
		}
	}
}

// State prints a short progress line for the states worth showing.
func (r *renderer) State(s orchestrator.State) {
	switch s {
	case orchestrator.StateAwaitingModerator:
		fmt.Println(dimStyle.Render("  … moderator is choosing the next speaker"))
	case orchestrator.StateExecutingTools:
		fmt.Println(dimStyle.Render("  … running tools"))
	}
}

func renderMarkdown(s string) string {
	return string(markdown.Render(s, renderWidth, 2))
}

func formatToolCall(tc llm.ToolCall) string {
	keys := make([]string, 0, len(tc.Args))
	for k := range tc.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, len(keys))
	for i, k := range keys {
		args[i] = fmt.Sprintf("%s=%s", k, truncate(fmt.Sprint(tc.Args[k]), 40))
	}
	return fmt.Sprintf("%s(%s)", tc.Name, strings.Join(args, ", "))
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
