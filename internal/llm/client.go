// Package llm defines the model-call contract consumed by the turn
// controller: a request carrying conversation history and a tool catalogue,
// answered by an incremental stream of content and tool-call fragments
// terminated by a done marker.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Message represents a chat message
type Message struct {
	Role      string                   `json:"role"` // "system", "user", "assistant", "tool"
	Content   string                   `json:"content"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolID    string                   `json:"tool_id,omitempty"`
	ToolName  string                   `json:"tool_name,omitempty"`
	Timestamp time.Time                `json:"timestamp,omitempty"`
}

// StreamRequest represents a streaming completion request
type StreamRequest struct {
	Messages     []*Message               `json:"messages"`
	Tools        []map[string]interface{} `json:"tools,omitempty"`
	SystemPrompt string                   `json:"system_prompt,omitempty"`
	Temperature  float64                  `json:"temperature"`
	MaxTokens    int                      `json:"max_tokens,omitempty"`
}

// FragmentType identifies a stream fragment kind
type FragmentType string

// Fragment kinds
const (
	FragmentContent  FragmentType = "content"
	FragmentToolCall FragmentType = "tool_call"
	FragmentDone     FragmentType = "done"
)

// Fragment is one increment of a model generation. Content fragments carry
// text; tool_call fragments carry a complete proposed call whose
// ArgumentsJSON must be parseable JSON; the done fragment terminates the
// generation and carries the stop reason.
type Fragment struct {
	Type          FragmentType `json:"type"`
	Text          string       `json:"text,omitempty"`
	ToolCallID    string       `json:"tool_call_id,omitempty"`
	ToolName      string       `json:"tool_name,omitempty"`
	ArgumentsJSON string       `json:"arguments_json,omitempty"`
	StopReason    string       `json:"stop_reason,omitempty"`
}

// Client is the interface for streaming LLM clients
type Client interface {
	// StreamTurn sends one generation request and delivers fragments in
	// emission order. The callback returning an error aborts the stream.
	// Implementations must finish with exactly one done fragment.
	StreamTurn(ctx context.Context, req *StreamRequest, callback func(Fragment) error) error
	// Complete is a simplified version for a single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}

func normalizeRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return "user"
	}
	return role
}

func toString(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

func parseToolArguments(raw interface{}) any {
	switch value := raw.(type) {
	case nil:
		return map[string]interface{}{}
	case string:
		if strings.TrimSpace(value) == "" {
			return map[string]interface{}{}
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return decoded
		}
		return value
	default:
		return value
	}
}
