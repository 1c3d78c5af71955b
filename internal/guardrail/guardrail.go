package guardrail

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/markatally/agentloop/internal/logger"
)

// Tool classification is by name only. The guardrail never inspects
// parameter internals; each tool validates its own schema at execution.
var searchClassTools = map[string]bool{
	"search":     true,
	"web_search": true,
}

var artifactTools = map[string]bool{
	"create_file": true,
}

var toolStepKinds = map[string]StepKind{
	"fetch_url":      StepProbe,
	"probe_url":      StepProbe,
	"download_media": StepDownload,
	"get_transcript": StepTranscript,
	"search":         StepSearch,
	"web_search":     StepSearch,
	"create_file":    StepGenerateArtifact,
}

// IsSearchClass reports whether a tool name belongs to the search class
func IsSearchClass(toolName string) bool {
	return searchClassTools[toolName]
}

// progressQueryPhrases flag search parameters that are really asking about
// the task's own progress rather than about the world.
var progressQueryPhrases = []string{
	"progress",
	"status update",
	"current status",
	"how is it going",
	"are you done",
	"is it finished",
	"task status",
}

// Config bounds guardrail policy
type Config struct {
	// SearchCallsPerTask caps recorded successful search-class calls per
	// task. The strictest policy, and the default, is one.
	SearchCallsPerTask int
	// ConsecutiveFailureCap caps consecutive failures of one tool before
	// further calls to it are rejected.
	ConsecutiveFailureCap int
	// Now supplies wall-clock time; tests may override it.
	Now func() time.Time
}

// DefaultConfig returns the default guardrail policy
func DefaultConfig() Config {
	return Config{
		SearchCallsPerTask:    1,
		ConsecutiveFailureCap: 2,
	}
}

// Manager owns TaskState keyed by session id. TaskState is mutated only
// through StartTask, RecordCall, Reflect and ClearTask; Decide is a pure
// read and is idempotent for unchanged state. Per-session access is
// sequential by construction; the mutex only protects the cross-session map.
type Manager struct {
	mu         sync.RWMutex
	cfg        Config
	classifier GoalClassifier
	tasks      map[string]*TaskState
	log        *logger.Logger
}

// NewManager creates a guardrail manager with the given policy and
// classifier. A nil classifier falls back to the keyword classifier.
func NewManager(cfg Config, classifier GoalClassifier) *Manager {
	if cfg.SearchCallsPerTask <= 0 {
		cfg.SearchCallsPerTask = 1
	}
	if cfg.ConsecutiveFailureCap <= 0 {
		cfg.ConsecutiveFailureCap = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &Manager{
		cfg:        cfg,
		classifier: classifier,
		tasks:      make(map[string]*TaskState),
		log:        logger.Global().WithPrefix("guardrail"),
	}
}

// SetLimits applies new policy caps at runtime, for example after a config
// reload. Non-positive values leave the corresponding cap unchanged.
func (m *Manager) SetLimits(searchCallsPerTask, consecutiveFailureCap int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if searchCallsPerTask > 0 {
		m.cfg.SearchCallsPerTask = searchCallsPerTask
	}
	if consecutiveFailureCap > 0 {
		m.cfg.ConsecutiveFailureCap = consecutiveFailureCap
	}
}

// StartTask creates a fresh task for the session, replacing any prior one.
// The goal is inferred from the user message and the plan derived from the
// goal's flags; tool-call history starts empty.
func (m *Manager) StartTask(sessionID, userID, userMessage string) *TaskState {
	goal := m.classifier.Classify(userMessage)

	task := &TaskState{
		SessionID: sessionID,
		UserID:    userID,
		Goal:      goal,
		Plan:      buildPlan(goal),
		Phase:     PhasePlanning,
		CreatedAt: m.cfg.Now(),
	}

	m.mu.Lock()
	m.tasks[sessionID] = task
	m.mu.Unlock()

	m.log.Debug("task started for session %s: %d plan steps, search=%v artifact=%v",
		sessionID, len(task.Plan), goal.RequiresSearch, goal.RequiresArtifact)

	return task
}

// buildPlan derives an ordered plan from the goal flags. Every plan ends
// with a mandatory finalize step.
func buildPlan(goal Goal) []ExecutionStep {
	var plan []ExecutionStep

	addStep := func(kind StepKind, description string) {
		plan = append(plan, ExecutionStep{
			ID:          uuid.NewString(),
			Kind:        kind,
			Description: description,
			Status:      StepPending,
		})
	}

	if len(goal.MediaURLs) > 0 {
		addStep(StepProbe, "Probe the referenced media URL")
		if goal.RequiresDownload {
			addStep(StepDownload, "Download the referenced media")
		}
		if goal.RequiresTranscript {
			addStep(StepTranscript, "Obtain a transcript of the media")
		}
	}

	if goal.RequiresSearch {
		addStep(StepSearch, "Search for relevant information")
	}

	for _, kind := range goal.ArtifactKinds {
		addStep(StepGenerateArtifact, fmt.Sprintf("Generate the requested %s", kind))
	}

	addStep(StepFinalize, "Finalize output for the user")

	return plan
}

// GetTask returns the task for a session, or nil
func (m *Manager) GetTask(sessionID string) *TaskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[sessionID]
}

// ClearTask removes the session's task state
func (m *Manager) ClearTask(sessionID string) {
	m.mu.Lock()
	delete(m.tasks, sessionID)
	m.mu.Unlock()
}

// RecordCall appends a call outcome to the session's history and performs
// the step bookkeeping: a successful call whose tool maps to the kind of
// the current plan step completes that step. Search-class results and
// artifact production are accumulated for reflection.
func (m *Manager) RecordCall(sessionID, toolName string, parameters map[string]interface{}, result interface{}, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[sessionID]
	if !ok {
		return
	}

	now := m.cfg.Now()
	task.ToolCallHistory = append(task.ToolCallHistory, ToolCallRecord{
		ToolName:    toolName,
		Parameters:  parameters,
		Fingerprint: fingerprintParams(toolName, parameters),
		Timestamp:   now,
		Success:     success,
		Result:      result,
	})

	if task.Phase == PhasePlanning {
		task.Phase = PhaseExecuting
	}

	if success {
		if searchClassTools[toolName] && result != nil {
			task.SearchResults = append(task.SearchResults, result)
		}
		if artifactTools[toolName] {
			task.ArtifactGenerated = true
		}

		if kind, mapped := toolStepKinds[toolName]; mapped {
			if idx := task.CurrentStepIndex; idx < len(task.Plan) {
				step := &task.Plan[idx]
				if step.Status == StepPending && step.Kind == kind {
					step.Status = StepCompleted
					step.CompletedAt = &now
					step.ToolName = toolName
					step.Result = result
				}
			}
		}
	}
}

// Decide gates one proposed tool call. Rules apply in order and the first
// match wins. Decide mutates nothing: calling it twice against identical
// state yields the identical decision.
func (m *Manager) Decide(sessionID, toolName string, parameters map[string]interface{}) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[sessionID]
	if !ok {
		// Nothing to guard.
		return Decision{Allowed: true}
	}

	if searchClassTools[toolName] {
		successes := 0
		for _, record := range task.ToolCallHistory {
			if searchClassTools[record.ToolName] && record.Success {
				successes++
			}
		}
		if successes >= m.cfg.SearchCallsPerTask {
			return Decision{
				Allowed: false,
				Reason: fmt.Sprintf(
					"search budget for this task is exhausted (%d call(s) already made); synthesize the answer from the results already gathered instead of searching again",
					successes),
			}
		}
	}

	if streak := m.consecutiveFailures(task, toolName); streak >= m.cfg.ConsecutiveFailureCap {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf(
				"tool %q has failed %d times in a row; stop retrying and report the failure to the user",
				toolName, streak),
		}
	}

	if task.Phase == PhaseCompleted {
		return Decision{
			Allowed: false,
			Reason:  "the task is already complete; no further tool calls are accepted",
		}
	}

	if task.ArtifactGenerated && searchClassTools[toolName] && looksLikeProgressQuery(parameters) {
		return Decision{
			Allowed: false,
			Reason:  "the requested artifact already exists; report completion to the user instead of querying for progress",
		}
	}

	return Decision{Allowed: true}
}

// consecutiveFailures counts failures of the tool walking backward from its
// most recent call; a success of the same tool ends the streak.
func (m *Manager) consecutiveFailures(task *TaskState, toolName string) int {
	streak := 0
	for i := len(task.ToolCallHistory) - 1; i >= 0; i-- {
		record := task.ToolCallHistory[i]
		if record.ToolName != toolName {
			continue
		}
		if record.Success {
			break
		}
		streak++
	}
	return streak
}

func looksLikeProgressQuery(parameters map[string]interface{}) bool {
	for _, value := range parameters {
		text, ok := value.(string)
		if !ok {
			continue
		}
		lowered := strings.ToLower(text)
		for _, phrase := range progressQueryPhrases {
			if strings.Contains(lowered, phrase) {
				return true
			}
		}
	}
	return false
}

// Reflect assesses task progress. Completion rules apply in order: all plan
// steps completed; required artifact produced; search results present with
// no artifact required. Otherwise the step pointer advances to the first
// pending step and the task continues; with nothing pending and no
// completion condition met, the task is stalled and asks for more input
// rather than looping.
func (m *Manager) Reflect(sessionID string) Reflection {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[sessionID]
	if !ok {
		return Reflection{
			IsComplete: false,
			NextAction: ActionNeedMoreInfo,
			Reasoning:  "no active task for this session",
		}
	}

	allCompleted := true
	firstPending := -1
	for i, step := range task.Plan {
		if step.Status != StepCompleted {
			allCompleted = false
			if firstPending < 0 {
				firstPending = i
			}
		}
	}

	switch {
	case allCompleted && len(task.Plan) > 0:
		task.Phase = PhaseCompleted
		return Reflection{
			IsComplete: true,
			NextAction: ActionComplete,
			Reasoning:  "every plan step is completed",
		}
	case task.Goal.RequiresArtifact && task.ArtifactGenerated:
		task.Phase = PhaseCompleted
		return Reflection{
			IsComplete: true,
			NextAction: ActionComplete,
			Reasoning:  "the required artifact has been produced",
		}
	case !task.Goal.RequiresArtifact && len(task.SearchResults) > 0:
		task.Phase = PhaseCompleted
		return Reflection{
			IsComplete: true,
			NextAction: ActionComplete,
			Reasoning:  "search results are available and no artifact is required",
		}
	case firstPending >= 0:
		task.CurrentStepIndex = firstPending
		return Reflection{
			IsComplete:     false,
			ShouldContinue: true,
			NextAction:     ActionContinue,
			Reasoning:      fmt.Sprintf("next pending step: %s", task.Plan[firstPending].Description),
		}
	default:
		return Reflection{
			IsComplete: false,
			NextAction: ActionNeedMoreInfo,
			Reasoning:  "no pending step remains and no completion condition holds; more input is needed",
		}
	}
}

// PromptContext renders the task state for injection into the model's
// instructions. This is the only place task state leaks into the
// model-facing conversation.
func (m *Manager) PromptContext(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[sessionID]
	if !ok {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current date: %s\n", m.cfg.Now().Format("2006-01-02"))
	fmt.Fprintf(&sb, "Task goal: %s\n", task.Goal.Description)
	fmt.Fprintf(&sb, "Task phase: %s\n", task.Phase)

	sb.WriteString("Plan:\n")
	for i, step := range task.Plan {
		marker := " "
		if step.Status == StepCompleted {
			marker = "x"
		}
		pointer := "  "
		if i == task.CurrentStepIndex && task.Phase != PhaseCompleted {
			pointer = "=>"
		}
		fmt.Fprintf(&sb, "%s [%s] %s\n", pointer, marker, step.Description)
	}

	if repeats := m.maxIdenticalCalls(task); repeats > 1 {
		fmt.Fprintf(&sb, "Note: an identical tool call has already been made %d times; do not repeat it.\n", repeats)
	}

	sb.WriteString("Operating instructions:\n")
	fmt.Fprintf(&sb, "- Search tools are high-cost: call at most %d per task, then synthesize from the results you have.\n", m.cfg.SearchCallsPerTask)
	sb.WriteString("- Never silently relax an explicit time, date or source constraint from the user.\n")
	sb.WriteString("- If a tool keeps failing, report the failure instead of retrying.\n")

	return sb.String()
}

// maxIdenticalCalls returns the highest number of history entries sharing
// one parameter fingerprint.
func (m *Manager) maxIdenticalCalls(task *TaskState) int {
	counts := make(map[uint64]int)
	max := 0
	for _, record := range task.ToolCallHistory {
		counts[record.Fingerprint]++
		if counts[record.Fingerprint] > max {
			max = counts[record.Fingerprint]
		}
	}
	return max
}

// fingerprintParams hashes tool name plus canonical JSON parameters.
// encoding/json sorts map keys, so equal parameter maps hash equally.
func fingerprintParams(toolName string, parameters map[string]interface{}) uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(toolName)
	if data, err := json.Marshal(parameters); err == nil {
		_, _ = digest.Write(data)
	}
	return digest.Sum64()
}
