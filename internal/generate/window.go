package generate

import (
	"encoding/json"

	"github.com/michaelbrown/notemind/internal/llm"
)

const defaultContextTokens = 16000

// estimateTokens returns an approximate token count for a message.
// Uses a chars/4 heuristic.
func estimateTokens(m llm.Message) int {
	tokens := len(m.Content) / 4
	for _, tc := range m.ToolCalls {
		tokens += len(tc.Name) / 4
		if argsJSON, err := json.Marshal(tc.Args); err == nil {
			tokens += len(argsJSON) / 4
		}
	}
	// Minimum 1 token per message for role overhead
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// estimateHistoryTokens returns approximate total tokens for a message slice.
func estimateHistoryTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m)
	}
	return total
}

// findSplitPoint finds where the recent part of history begins so that it
// fits within budget. The split always lands on a user message so tool
// call/result pairs stay together. Returns 0 when nothing can be dropped.
func findSplitPoint(messages []llm.Message, budget int) int {
	if len(messages) <= 1 {
		return 0
	}

	tokens := 0
	splitIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := estimateTokens(messages[i])
		if tokens+msgTokens > budget {
			splitIdx = i + 1
			break
		}
		tokens += msgTokens
	}

	// Everything fits
	if splitIdx < 0 {
		return 0
	}

	// Clamp: keep at least the last message
	if splitIdx >= len(messages) {
		splitIdx = len(messages) - 1
	}

	// Move forward to the next user message; moving backward would exceed the budget.
	for splitIdx < len(messages) && messages[splitIdx].Role != llm.RoleUser {
		splitIdx++
	}
	if splitIdx >= len(messages) {
		// No user boundary inside the recent part. Fall back to the last user
		// message so the window still opens on a user turn.
		for splitIdx = len(messages) - 1; splitIdx > 0; splitIdx-- {
			if messages[splitIdx].Role == llm.RoleUser {
				break
			}
		}
	}
	return splitIdx
}

// window returns the most recent part of history that fits within budget
// tokens. The stored history is never modified; only the prompt shrinks.
func window(history []llm.Message, budget int) []llm.Message {
	if budget <= 0 || estimateHistoryTokens(history) <= budget {
		return history
	}
	return history[findSplitPoint(history, budget):]
}
