// Package llm defines the chat-completion contract the agent runtimes
// depend on, and an OpenAI-compatible implementation of it.
package llm

import (
	"context"
	"encoding/json"

	"github.com/alynlabs/alyn/internal/agents/toolcall"
)

// Message roles accepted by Complete.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn. Assistant turns may carry tool calls; tool
// turns must carry the id of the call they answer.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []toolcall.RawCall
}

// ToolSchema describes one callable tool in the OpenAI function format.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is a single non-streaming completion request.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSchema
}

// AssistantMessage is the model's reply: free text, tool calls, or both.
type AssistantMessage struct {
	Content   string
	ToolCalls []toolcall.RawCall
}

// Provider is the completion endpoint contract. Implementations must be
// safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*AssistantMessage, error)
}
