// Package events defines the ordered event stream a turn emits to its
// observer: content deltas, tool lifecycle, file creation and turn outcome.
// The concrete wire encoding is a transport concern; this package only
// guarantees payload shape and emission order.
package events

import "time"

// Type identifies an event kind
type Type string

// Event types
const (
	TypeTurnStart    Type = "turn_start"
	TypeContentDelta Type = "content_delta"
	TypeToolStart    Type = "tool_start"
	TypeToolProgress Type = "tool_progress"
	TypeToolComplete Type = "tool_complete"
	TypeToolError    Type = "tool_error"
	TypeFileCreated  Type = "file_created"
	TypeContinuing   Type = "continuing"
	TypeTurnComplete Type = "turn_complete"
	TypeStepLimit    Type = "step_limit"
	TypeTurnError    Type = "turn_error"
)

// FileInfo describes a file-backed artifact produced by a tool
type FileInfo struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	FileID   string `json:"file_id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Event is one entry in the turn's ordered event stream
type Event struct {
	Type       Type                   `json:"type"`
	SessionID  string                 `json:"session_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Content    string                 `json:"content,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	File       *FileInfo              `json:"file,omitempty"`
	StepsTaken int                    `json:"steps_taken,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Sink receives events in emission order. Implementations must not reorder.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ev Event) error

// Emit calls the function
func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// Dispatch stamps the event timestamp if unset and sends it if the sink is set.
func Dispatch(sink Sink, ev Event) error {
	if sink == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return sink.Emit(ev)
}
