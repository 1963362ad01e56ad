// Package providers implements the OpenAI-compatible chat provider over
// net/http with retry/backoff and SSE streaming, plus the hosted-editor
// (GitHub Copilot) token flow and the capability gates that decide
// streaming, tool-calling and vision viability.
package providers

import "context"

// Provider is the chat surface the agent loop drives.
type Provider interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and emits text deltas through sink as they
	// arrive. The returned response is shape-identical to Chat so the loop
	// does not care which path ran.
	ChatStream(ctx context.Context, req ChatRequest, sink func(string)) (*ChatResponse, error)

	// Name returns the provider identifier (e.g. "openai", "copilot").
	Name() string
}

// ChatRequest is the input for a Chat/ChatStream call.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Temperature float64          `json:"temperature"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// ChatResponse is the result of one completion.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// Message is a conversation element. When Parts is non-empty the wire
// content is the typed-part array; otherwise Content is sent as a string.
type Message struct {
	Role       string        `json:"role"` // system|user|assistant|tool
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ContentPart is a typed message fragment (text or image_url data URL).
type ContentPart struct {
	Type     string `json:"type"` // "text" | "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments stay as
// raw JSON text; the loop parses them (malformed JSON degrades to {}).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool advertised to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-schema parameter object for a tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
