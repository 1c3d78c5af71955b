package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// ToolSpec is the static specification of a tool (name, description,
// parameter schema). Specs are immutable singletons used for LLM schema
// generation; executors carry the runtime dependencies.
type ToolSpec interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
}

// ToolExecutor handles the actual execution of a tool
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}) *ToolResult
}

// ProgressFunc receives human-readable progress messages during a long
// tool execution. It may be nil.
type ProgressFunc func(message string)

// ProgressReporter is implemented by executors that can report progress
// while running. Executors without it simply never emit progress.
type ProgressReporter interface {
	ExecuteWithProgress(ctx context.Context, params map[string]interface{}, onProgress ProgressFunc) *ToolResult
}

// ToolFactory creates executors with specific runtime dependencies. The
// factory receives the registry so composite tools can reach others.
type ToolFactory func(registry *Registry) ToolExecutor

// ToolCall represents a tool call from the LLM
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Artifact describes a file produced by a tool
type Artifact struct {
	FileID   string `json:"file_id"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`

	// Artifact is set when the tool produced a file.
	Artifact *Artifact `json:"artifact,omitempty"`

	// Metadata carries timing and diagnostics for summaries.
	Metadata *ExecutionMetadata `json:"metadata,omitempty"`
}

// ExecutionMetadata captures detail about a tool execution
type ExecutionMetadata struct {
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`

	OutputSizeBytes int `json:"output_size_bytes,omitempty"`

	ToolType string                 `json:"tool_type,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`

	ErrorType string `json:"error_type,omitempty"`
}

type registryEntry struct {
	spec     ToolSpec
	executor ToolExecutor
}

// Registry manages available tools
type Registry struct {
	entries map[string]*registryEntry
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// RegisterSpec adds a tool spec with a factory to the registry
func (r *Registry) RegisterSpec(spec ToolSpec, factory ToolFactory) {
	executor := factory(r)
	r.entries[spec.Name()] = &registryEntry{spec: spec, executor: executor}
}

// GetExecutor retrieves a tool executor by name
func (r *Registry) GetExecutor(name string) (ToolExecutor, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.executor, true
}

// Has reports whether a tool name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// ListSpecs returns all registered tool specs
func (r *Registry) ListSpecs() []ToolSpec {
	result := make([]ToolSpec, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry.spec)
	}
	return result
}

// Execute runs a tool call and stamps the call id onto the result
func (r *Registry) Execute(ctx context.Context, call *ToolCall) *ToolResult {
	return r.ExecuteWithProgress(ctx, call, nil)
}

// ExecuteWithProgress runs a tool call, forwarding progress messages to
// onProgress when the executor supports them.
func (r *Registry) ExecuteWithProgress(ctx context.Context, call *ToolCall, onProgress ProgressFunc) *ToolResult {
	entry, ok := r.entries[call.Name]
	if !ok {
		return &ToolResult{
			ID:    call.ID,
			Error: "tool not found: " + call.Name,
		}
	}

	var result *ToolResult
	if reporter, ok := entry.executor.(ProgressReporter); ok && onProgress != nil {
		result = reporter.ExecuteWithProgress(ctx, call.Parameters, onProgress)
	} else {
		result = entry.executor.Execute(ctx, call.Parameters)
	}
	if result == nil {
		return &ToolResult{
			ID:    call.ID,
			Error: "tool returned nil result",
		}
	}

	result.ID = call.ID
	return result
}

// ToJSONSchema converts tools to JSON schema format for the LLM
func (r *Registry) ToJSONSchema() []map[string]interface{} {
	schemas := make([]map[string]interface{}, 0, len(r.entries))
	for _, entry := range r.entries {
		schemas = append(schemas, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        entry.spec.Name(),
				"description": entry.spec.Description(),
				"parameters":  entry.spec.Parameters(),
			},
		})
	}
	return schemas
}

// NewToolResultWithMetadata builds a ToolResult with metadata, classifying
// the error type when one is present
func NewToolResultWithMetadata(id string, result interface{}, err error, metadata *ExecutionMetadata) *ToolResult {
	toolResult := &ToolResult{
		ID:       id,
		Result:   result,
		Metadata: metadata,
	}
	if err != nil {
		toolResult.Error = err.Error()
		if metadata != nil {
			metadata.ErrorType = classifyError(err)
		}
	}
	return toolResult
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "no such"):
		return "not_found"
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return "network"
	case strings.Contains(errStr, "permission") || strings.Contains(errStr, "denied"):
		return "permission"
	default:
		return "unknown"
	}
}

// GetStringParam reads a string parameter with a default
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetIntParam reads an int parameter with a default. JSON numbers arrive
// as float64, so both forms are accepted.
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBoolParam reads a bool parameter with a default
func GetBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if val, ok := params[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
