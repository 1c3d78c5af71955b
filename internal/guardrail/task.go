// Package guardrail owns per-session task state and decides whether the
// machinery a model wants to invoke is still within budget: it gates
// proposed tool calls against tool-call history and reflects on whether the
// task is complete. It never reasons about parameter internals, only tool
// names and history.
package guardrail

import "time"

// Phase is the lifecycle phase of a task
type Phase string

// Task phases
const (
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// IsTerminal returns true for completed or failed phases
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// StepKind categorizes a plan step
type StepKind string

// Step kinds
const (
	StepProbe            StepKind = "probe"
	StepDownload         StepKind = "download"
	StepTranscript       StepKind = "transcript"
	StepSearch           StepKind = "search"
	StepGenerateArtifact StepKind = "generate_artifact"
	StepFinalize         StepKind = "finalize"
)

// StepStatus is the status of a plan step. Steps only ever move from
// pending to completed; no other transition exists.
type StepStatus string

// Step statuses
const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
)

// ExecutionStep is one entry in a task's plan
type ExecutionStep struct {
	ID          string      `json:"id"`
	Kind        StepKind    `json:"kind"`
	Description string      `json:"description"`
	Status      StepStatus  `json:"status"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	ToolName    string      `json:"tool_name,omitempty"`
	Result      interface{} `json:"result,omitempty"`
}

// Goal captures what the user asked for, as inferred from their message
type Goal struct {
	Description        string   `json:"description"`
	RequiresSearch     bool     `json:"requires_search"`
	RequiresArtifact   bool     `json:"requires_artifact"`
	RequiresDownload   bool     `json:"requires_download"`
	RequiresTranscript bool     `json:"requires_transcript"`
	MediaURLs          []string `json:"media_urls,omitempty"`
	// ArtifactKinds is the ordered list of artifact kinds the answer is
	// expected to produce, e.g. "document", "code".
	ArtifactKinds []string `json:"artifact_kinds,omitempty"`
}

// ToolCallRecord is one entry in the append-only tool-call history
type ToolCallRecord struct {
	ToolName    string                 `json:"tool_name"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Fingerprint uint64                 `json:"fingerprint"`
	Timestamp   time.Time              `json:"timestamp"`
	Success     bool                   `json:"success"`
	Result      interface{}            `json:"result,omitempty"`
}

// TaskState is the per-session task record. At most one non-terminal
// TaskState exists per session; starting a new task replaces the prior one.
type TaskState struct {
	SessionID        string           `json:"session_id"`
	UserID           string           `json:"user_id"`
	Goal             Goal             `json:"goal"`
	Plan             []ExecutionStep  `json:"plan"`
	CurrentStepIndex int              `json:"current_step_index"`
	Phase            Phase            `json:"phase"`
	ToolCallHistory  []ToolCallRecord `json:"tool_call_history"`

	SearchResults     []interface{} `json:"search_results,omitempty"`
	ArtifactGenerated bool          `json:"artifact_generated"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Decision is the guardrail's verdict for one proposed tool call. It is
// transient: recomputed on every proposal, never persisted.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// NextAction is reflection's recommendation
type NextAction string

// Next actions
const (
	ActionComplete     NextAction = "complete"
	ActionContinue     NextAction = "continue"
	ActionNeedMoreInfo NextAction = "need_more_info"
)

// Reflection is the guardrail's assessment of task progress
type Reflection struct {
	IsComplete     bool       `json:"is_complete"`
	ShouldContinue bool       `json:"should_continue"`
	NextAction     NextAction `json:"next_action"`
	Reasoning      string     `json:"reasoning"`
}
