package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/notemind/internal/llm"
)

// ExportMarkdown renders a session and its messages as a markdown document.
func ExportMarkdown(sess *Session, messages []llm.Message) string {
	var b strings.Builder

	title := sess.Title
	if title == "" {
		title = "Untitled session"
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	b.WriteString(fmt.Sprintf("- **Session:** %s\n", sess.ID))
	b.WriteString(fmt.Sprintf("- **Mode:** %s\n", sess.Mode))
	if sess.Topic != "" {
		b.WriteString(fmt.Sprintf("- **Topic:** %s\n", sess.Topic))
	}
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", sess.Status))
	b.WriteString("\n---\n\n")

	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			b.WriteString(fmt.Sprintf("## You\n\n%s\n\n", m.Content))
		case llm.RoleModel:
			name := m.Persona
			if name == "" {
				name = "Assistant"
			}
			if m.Content != "" {
				b.WriteString(fmt.Sprintf("## %s\n\n%s\n\n", name, m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				b.WriteString(fmt.Sprintf("**Tool Call (%s):** `%s`\n```json\n%s\n```\n\n", name, tc.Name, string(args)))
			}
		case llm.RoleTool:
			b.WriteString(fmt.Sprintf("<details>\n<summary>Tool Result</summary>\n\n```\n%s\n```\n</details>\n\n", m.Content))
		}
	}

	return b.String()
}

// ExportJSON renders a session and its messages as formatted JSON.
func ExportJSON(sess *Session, messages []llm.Message) ([]byte, error) {
	export := struct {
		Session  *Session      `json:"session"`
		Messages []llm.Message `json:"messages"`
	}{
		Session:  sess,
		Messages: messages,
	}
	return json.MarshalIndent(export, "", "  ")
}
