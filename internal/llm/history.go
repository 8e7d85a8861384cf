package llm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// PersonaCount returns the number of distinct personas that authored model messages.
func PersonaCount(history []Message) int {
	seen := make(map[string]struct{})
	for _, m := range history {
		if m.Role == RoleModel && m.Persona != "" {
			seen[m.Persona] = struct{}{}
		}
	}
	return len(seen)
}

// prefixPersonas returns a copy of history in which model messages carry a
// "[Name]: " prefix when more than one persona took part, so every vendor
// can tell the speakers apart. The input is not modified.
func prefixPersonas(history []Message) []Message {
	out := make([]Message, len(history))
	copy(out, history)
	if PersonaCount(history) < 2 {
		return out
	}
	for i, m := range out {
		if m.Role != RoleModel || m.Persona == "" || m.Content == "" {
			continue
		}
		prefix := "[" + m.Persona + "]: "
		if !strings.HasPrefix(m.Content, prefix) {
			out[i].Content = prefix + m.Content
		}
	}
	return out
}

// callNames maps every tool call id in history to its tool name. Vendors that
// key tool results by function name rather than id need this.
func callNames(history []Message) map[string]string {
	names := make(map[string]string)
	for _, m := range history {
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Name
		}
	}
	return names
}

// parseArgs decodes JSON-encoded tool arguments. An empty string is an empty
// argument object; anything unparseable reports false so the call is dropped.
func parseArgs(provider, tool, raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Warn("dropping tool call with malformed arguments", "provider", provider, "tool", tool, "err", err)
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

// callID returns id or a synthetic one when the vendor omitted it.
func callID(id string) string {
	if id != "" {
		return id
	}
	return NewCallID()
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// joinText concatenates text parts of block-structured responses.
func joinText(parts []string) string {
	return strings.Join(parts, "")
}
