package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const strictJSONInstruction = "\n\nRespond with only valid JSON. Do not wrap it in markdown code fences and do not add any text before or after it."

// jsonAttempt performs one completion. When structured is set the adapter
// uses its vendor's native JSON mode; otherwise it relies on the prompt alone.
type jsonAttempt func(ctx context.Context, prompt string, structured bool) (string, error)

// generateJSON runs the primary structured attempt and, if its output does
// not parse, exactly one prompt-only attempt with a stricter instruction.
func generateJSON(ctx context.Context, provider string, req JSONRequest, attempt jsonAttempt) (json.RawMessage, error) {
	text, err := attempt(ctx, req.Prompt, true)
	if err != nil {
		return nil, err
	}
	if raw, ok := validJSON(StripCodeFences(text)); ok {
		return raw, nil
	}
	slog.Debug("JSON mode returned unparseable output, retrying with strict prompt", "provider", provider)

	text, err = attempt(ctx, strictJSONPrompt(req), false)
	if err != nil {
		return nil, err
	}
	if raw, ok := validJSON(StripCodeFences(text)); ok {
		return raw, nil
	}
	return nil, &GenerationError{
		Provider: provider,
		Raw:      text,
		Err:      errors.New("response is not valid JSON after retry"),
	}
}

func strictJSONPrompt(req JSONRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.Schema != nil {
		if schema, err := json.Marshal(req.Schema); err == nil {
			fmt.Fprintf(&b, "\n\nThe JSON must conform to this JSON Schema:\n%s", schema)
		}
	}
	b.WriteString(strictJSONInstruction)
	return b.String()
}

func validJSON(s string) (json.RawMessage, bool) {
	if s == "" || !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

// StripCodeFences removes a surrounding markdown code fence, with or without
// a language tag, and trims whitespace.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
