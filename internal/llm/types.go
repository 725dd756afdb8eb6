// Package llm provides LLM client implementations.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM. Field tags follow the
// OpenAI chat completions wire format so messages marshal directly.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"` // Always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function the model wants to run. Arguments is a
// JSON-encoded object, raw as the provider sent it; callers decode it.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is a chat completion request.
type Request struct {
	Model    string
	Messages []Message

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Temperature is always transmitted, including zero, because the
	// pipeline depends on deterministic extraction.
	Temperature float64

	// Tools are OpenAI-format tool definitions. When present the request
	// also sets tool_choice to "auto".
	Tools []map[string]any
}

// Response is the unified response from a chat completion.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Model     string

	// Token usage as reported by the provider.
	InputTokens  int
	OutputTokens int
}
