// Package llm defines the chat-completion port used by the turn engine,
// the booking tools, and conversation scoring.
package llm

import "context"

// Role values for conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of ordered conversation history.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages that invoked tools
	ToolCallID string     // tool messages answering a call
	Name       string     // tool name on tool messages
}

// ToolCall is a model-requested function invocation. Arguments is the raw
// JSON string exactly as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool declares a callable function to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single chat completion.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int
	// JSONObject forces a JSON-object response format (scoring path).
	JSONObject bool
}

// Response is what the model returned: free text, tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is the completion port.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
