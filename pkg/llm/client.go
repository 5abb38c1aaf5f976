// Package llm abstracts the hosted language-model providers behind a small
// client interface: single-turn completion and a bounded multi-turn
// tool-calling mode. Callers never construct provider requests directly.
package llm

import (
	"context"
	"strings"
)

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the system prompt
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl enables prompt caching for the system prompt.
// This marks the system prompt as cacheable, reducing costs for
// repeated calls with the same system prompt prefix.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// Client is the interface for single-turn interaction with an LLM.
type Client interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// ToolClient extends Client with a raw multi-turn tool-calling call.
// One call is one round trip; the loop over rounds lives in ToolLoop.
type ToolClient interface {
	Client

	// CompleteWithTools sends a conversation with tool definitions and
	// returns the model's response, which may request tool calls.
	CompleteWithTools(ctx context.Context, systemPrompt string, messages []ToolMessage, tools []ToolSpec, opts ...CompleteOption) (*ToolResponse, error)
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON-schema object with "properties" and "required"
}

// ToolExecutor executes a named tool call requested by the model.
// The returned bool reports whether the output is an error message.
type ToolExecutor interface {
	CallTool(ctx context.Context, name string, input map[string]any) (string, bool, error)
}

// ToolMessage is one turn of a tool-calling conversation.
type ToolMessage struct {
	Role    string // "user" or "assistant"
	Content []ToolContentBlock
}

// ToolContentBlock is one content block within a ToolMessage.
type ToolContentBlock struct {
	Type      string         // "text", "tool_use" or "tool_result"
	Text      string         // for "text"
	ToolUseID string         // for "tool_use" and "tool_result"
	Name      string         // for "tool_use"
	Input     map[string]any // for "tool_use"
	Content   string         // for "tool_result"
	IsError   bool           // for "tool_result"
}

// ToolCallInfo identifies one tool call requested by the model.
type ToolCallInfo struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResponse is the model's response to a CompleteWithTools call.
type ToolResponse struct {
	StopReason   string
	Blocks       []ToolContentBlock
	InputTokens  int64
	OutputTokens int64
}

// Text returns the concatenated text blocks of the response.
func (r *ToolResponse) Text() string {
	var sb strings.Builder
	for _, blk := range r.Blocks {
		if blk.Type == "text" && blk.Text != "" {
			sb.WriteString(blk.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ToolCalls returns the tool calls requested by the response.
func (r *ToolResponse) ToolCalls() []ToolCallInfo {
	var calls []ToolCallInfo
	for _, blk := range r.Blocks {
		if blk.Type == "tool_use" && blk.ToolUseID != "" && blk.Name != "" {
			calls = append(calls, ToolCallInfo{ID: blk.ToolUseID, Name: blk.Name, Input: blk.Input})
		}
	}
	return calls
}

// HasToolCalls reports whether the response requests any tool calls.
func (r *ToolResponse) HasToolCalls() bool {
	return len(r.ToolCalls()) > 0
}

// ToMessage converts the response into an assistant conversation turn.
func (r *ToolResponse) ToMessage() ToolMessage {
	return ToolMessage{Role: "assistant", Content: r.Blocks}
}
