package llm

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role represents a chat message role.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Tier is a vendor-neutral model size. Each provider maps tiers to concrete model ids.
type Tier string

const (
	TierLite Tier = "lite"
	TierFast Tier = "fast"
	TierPro  Tier = "pro"
)

// Tiers lists every tier from cheapest to heaviest.
var Tiers = []Tier{TierLite, TierFast, TierPro}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierLite, TierFast, TierPro:
		return true
	}
	return false
}

// Message is a single entry in a conversation history.
type Message struct {
	ID                string             `json:"id"`
	Role              Role               `json:"role"`
	Content           string             `json:"content,omitempty"`
	Persona           string             `json:"persona,omitempty"`
	ToolCalls         []ToolCall         `json:"tool_calls,omitempty"`
	ToolCallID        string             `json:"tool_call_id,omitempty"` // For tool result messages
	StructuredContent *StructuredContent `json:"structured_content,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// StructuredContent attaches a typed payload to a message. Kind names the payload shape.
type StructuredContent struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// ToolCall represents a tool invocation requested by a model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// StringArg returns the named argument if it is a string.
func (tc ToolCall) StringArg(name string) string {
	s, _ := tc.Args[name].(string)
	return s
}

// ToolDef defines a tool that a model can call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Usage counts tokens for a single provider call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Result is the normalized outcome of a tool-enabled generation.
// Text is empty when the model only produced tool calls.
type Result struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Chunk is one increment of a streamed response.
type Chunk struct {
	Text string `json:"text"`
}

// Helper constructors

func UserMessage(content string) Message {
	return newMessage(RoleUser, content)
}

func ModelMessage(persona, content string) Message {
	m := newMessage(RoleModel, content)
	m.Persona = persona
	return m
}

func ToolResultMessage(toolCallID, content string) Message {
	m := newMessage(RoleTool, content)
	m.ToolCallID = toolCallID
	return m
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewCallID returns a synthetic tool call id for vendors that omit them.
func NewCallID() string {
	return "call_" + uuid.NewString()
}
