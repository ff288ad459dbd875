// Package chatprovider adapts external chat-completion backends to the
// ChatProvider capability trait the engine's director and writer roles
// depend on: message history in, text (optionally streamed) and structured
// tool calls out. Wraps github.com/mozilla-ai/any-llm-go, following the
// wrapper shape used elsewhere in the reference corpus for that library.
package chatprovider

import "context"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of chat history.
type Message struct {
	Role       Role
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a structured tool invocation emitted by a director/writer
// call, matching §6's provider-tool call surface (patch_state, add_plot,
// update_plot, remove_plot, determine_action_result).
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments, validated by internal/toolschema
}

// ToolDefinition describes a callable tool offered to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ChatRequest is one completion request.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
}

// ChatResponse is a non-streamed completion result.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatChunk is one increment of a streamed completion. FinishReason is
// non-empty only on the final chunk, at which point ToolCalls (if any)
// carries the fully accumulated set.
type ChatChunk struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Provider is the capability trait the engine depends on. It never names a
// concrete backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error)
	Name() string
}
