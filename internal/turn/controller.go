// Package turn runs the model-and-tools loop for one user turn: stream a
// generation, execute proposed tool calls under guardrail policy, feed the
// results back, and repeat until the model stops, the step cap is reached
// or the wall-clock budget runs out.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/markatally/agentloop/internal/events"
	"github.com/markatally/agentloop/internal/guardrail"
	"github.com/markatally/agentloop/internal/llm"
	"github.com/markatally/agentloop/internal/logger"
	"github.com/markatally/agentloop/internal/loopdetector"
	"github.com/markatally/agentloop/internal/session"
	"github.com/markatally/agentloop/internal/tools"
)

// Finish reasons
const (
	FinishStop     = "stop"
	FinishMaxSteps = "max_steps"
)

const (
	defaultMaxSteps = 10
	defaultBudget   = 5 * time.Minute
)

// Config bounds one turn
type Config struct {
	MaxSteps     int
	Budget       time.Duration
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// Now supplies wall-clock time; tests may override it.
	Now func() time.Time
}

// Result is the outcome of a completed turn. Content holds everything the
// model said across all steps, including partial text from a step that was
// cut off.
type Result struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	StepsTaken   int    `json:"steps_taken"`
}

// Controller drives turns. It is stateless across turns; everything
// per-conversation lives in the session and the guardrail.
type Controller struct {
	client   llm.Client
	registry *tools.Registry
	guard    *guardrail.Manager
	log      *logger.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewController wires a turn controller
func NewController(client llm.Client, registry *tools.Registry, guard *guardrail.Manager, cfg Config) *Controller {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		client:   client,
		registry: registry,
		guard:    guard,
		cfg:      cfg,
		log:      logger.Global().WithPrefix("turn"),
	}
}

// SetLimits applies new step and time bounds at runtime, for example after
// a config reload. Turns already in flight keep the bounds they started
// with; non-positive values leave the corresponding bound unchanged.
func (c *Controller) SetLimits(maxSteps int, budget time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxSteps > 0 {
		c.cfg.MaxSteps = maxSteps
	}
	if budget > 0 {
		c.cfg.Budget = budget
	}
}

func (c *Controller) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// stepOutcome collects what one model generation produced
type stepOutcome struct {
	content    string
	toolCalls  []tools.ToolCall
	stopReason string
}

// RunTurn executes one user turn against the session. Events are emitted to
// the sink in order: turn_start first, turn_complete or turn_error last.
// On a model or stream fault the partial result is returned alongside the
// error so content already produced is never lost.
func (c *Controller) RunTurn(ctx context.Context, sess *session.Session, userMessage string, sink events.Sink) (*Result, error) {
	cfg := c.config()
	start := cfg.Now()
	sessionID := sess.ID

	sess.AddMessage(llm.Message{Role: "user", Content: userMessage})

	if err := events.Dispatch(sink, events.Event{Type: events.TypeTurnStart, SessionID: sessionID}); err != nil {
		return nil, err
	}

	detector := loopdetector.NewLoopDetector()
	var content strings.Builder
	result := &Result{FinishReason: FinishStop}

	fail := func(stepsTaken int, err error) (*Result, error) {
		result.Content = content.String()
		result.StepsTaken = stepsTaken
		_ = events.Dispatch(sink, events.Event{
			Type:       events.TypeTurnError,
			SessionID:  sessionID,
			Error:      err.Error(),
			StepsTaken: stepsTaken,
		})
		return result, err
	}

	for step := 1; step <= cfg.MaxSteps; step++ {
		if elapsed := cfg.Now().Sub(start); elapsed >= cfg.Budget {
			c.log.Warn("session %s: turn budget exhausted after %s at step %d", sessionID, elapsed, step)
			return fail(step-1, fmt.Errorf("turn budget of %s exhausted after %s", cfg.Budget, elapsed))
		}

		outcome, err := c.runStep(ctx, cfg, sess, sink, &content)
		if err != nil {
			return fail(step-1, err)
		}
		result.StepsTaken = step

		assistantMsg := llm.Message{Role: "assistant", Content: outcome.content}
		for _, call := range outcome.toolCalls {
			arguments, _ := json.Marshal(call.Parameters)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, map[string]interface{}{
				"id":   call.ID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      call.Name,
					"arguments": string(arguments),
				},
			})
		}
		sess.AddMessage(assistantMsg)

		if len(outcome.toolCalls) == 0 {
			result.FinishReason = FinishStop
			return c.finish(ctx, sink, sess, result, content.String())
		}

		for _, call := range outcome.toolCalls {
			c.executeCall(ctx, sess, sink, call)
		}

		if looping, pattern, count := detector.AddText(outcome.content); looping {
			c.log.Warn("session %s: repetition loop detected (%q seen %d times), stopping turn", sessionID, pattern, count)
			result.FinishReason = FinishStop
			return c.finish(ctx, sink, sess, result, content.String())
		}

		if step == cfg.MaxSteps {
			result.FinishReason = FinishMaxSteps
			c.emitStepLimit(sink, sessionID, step, "step limit reached")
			return c.finish(ctx, sink, sess, result, content.String())
		}

		if err := events.Dispatch(sink, events.Event{
			Type:       events.TypeContinuing,
			SessionID:  sessionID,
			StepsTaken: step,
		}); err != nil {
			return fail(step, err)
		}
	}

	// Unreachable: the loop exits through finish or fail.
	return c.finish(ctx, sink, sess, result, content.String())
}

// runStep performs one model generation, streaming content deltas as they
// arrive and collecting proposed tool calls.
func (c *Controller) runStep(ctx context.Context, cfg Config, sess *session.Session, sink events.Sink, content *strings.Builder) (*stepOutcome, error) {
	history := sess.History()
	messages := make([]*llm.Message, len(history))
	for i := range history {
		messages[i] = &history[i]
	}

	req := &llm.StreamRequest{
		Messages:     messages,
		Tools:        c.registry.ToJSONSchema(),
		SystemPrompt: c.systemPrompt(cfg, sess.ID),
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}

	if estimate, approx := estimateContextTokens(c.client.GetModelName(), req.SystemPrompt, messages); approx {
		c.log.Debug("session %s: ~%d context tokens (approximate)", sess.ID, estimate)
	} else {
		c.log.Debug("session %s: %d context tokens", sess.ID, estimate)
	}

	outcome := &stepOutcome{}
	err := c.client.StreamTurn(ctx, req, func(fragment llm.Fragment) error {
		switch fragment.Type {
		case llm.FragmentContent:
			outcome.content += fragment.Text
			content.WriteString(fragment.Text)
			return events.Dispatch(sink, events.Event{
				Type:      events.TypeContentDelta,
				SessionID: sess.ID,
				Content:   fragment.Text,
			})
		case llm.FragmentToolCall:
			params, err := decodeArguments(fragment.ArgumentsJSON)
			if err != nil {
				return fmt.Errorf("tool call %s (%s) carries malformed arguments: %w",
					fragment.ToolCallID, fragment.ToolName, err)
			}
			outcome.toolCalls = append(outcome.toolCalls, tools.ToolCall{
				ID:         fragment.ToolCallID,
				Name:       fragment.ToolName,
				Parameters: params,
			})
		case llm.FragmentDone:
			outcome.stopReason = fragment.StopReason
		}
		return nil
	})
	if err != nil {
		// Keep whatever text already streamed in the history so a retry
		// does not lose it.
		if outcome.content != "" {
			sess.AddMessage(llm.Message{Role: "assistant", Content: outcome.content})
		}
		return nil, fmt.Errorf("model stream failed: %w", err)
	}
	return outcome, nil
}

// executeCall runs a single tool call under guardrail policy. A denial is
// surfaced to the model as a synthetic tool result carrying the reason, so
// the model can adjust instead of silently losing the call.
func (c *Controller) executeCall(ctx context.Context, sess *session.Session, sink events.Sink, call tools.ToolCall) {
	sessionID := sess.ID

	// Gate first: a denied call never enters the tool lifecycle, so no
	// tool_start is emitted for it.
	if c.guard != nil {
		decision := c.guard.Decide(sessionID, call.Name, call.Parameters)
		if !decision.Allowed {
			c.log.Info("session %s: call to %s rejected: %s", sessionID, call.Name, decision.Reason)
			_ = events.Dispatch(sink, events.Event{
				Type:       events.TypeToolError,
				SessionID:  sessionID,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				Error:      decision.Reason,
			})
			sess.AddMessage(llm.Message{
				Role:     "tool",
				Content:  "Call rejected: " + decision.Reason,
				ToolID:   call.ID,
				ToolName: call.Name,
			})
			return
		}
	}

	_ = events.Dispatch(sink, events.Event{
		Type:       events.TypeToolStart,
		SessionID:  sessionID,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Parameters: call.Parameters,
	})

	onProgress := func(message string) {
		_ = events.Dispatch(sink, events.Event{
			Type:       events.TypeToolProgress,
			SessionID:  sessionID,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Content:    message,
		})
	}

	toolResult := c.registry.ExecuteWithProgress(ctx, &call, onProgress)
	success := toolResult.Error == ""

	if c.guard != nil {
		c.guard.RecordCall(sessionID, call.Name, call.Parameters, toolResult.Result, success)
	}

	if success {
		_ = events.Dispatch(sink, events.Event{
			Type:       events.TypeToolComplete,
			SessionID:  sessionID,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Result:     toolResult.Result,
		})
		if toolResult.Artifact != nil {
			_ = events.Dispatch(sink, events.Event{
				Type:      events.TypeFileCreated,
				SessionID: sessionID,
				File: &events.FileInfo{
					Type:     "file",
					Name:     toolResult.Artifact.Name,
					FileID:   toolResult.Artifact.FileID,
					MimeType: toolResult.Artifact.MimeType,
					Size:     toolResult.Artifact.Size,
				},
			})
		}
	} else {
		_ = events.Dispatch(sink, events.Event{
			Type:       events.TypeToolError,
			SessionID:  sessionID,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Error:      toolResult.Error,
		})
	}

	sess.AddMessage(llm.Message{
		Role:     "tool",
		Content:  renderToolResult(toolResult),
		ToolID:   call.ID,
		ToolName: call.Name,
	})
}

// finish runs the post-turn reflection and emits the closing event
func (c *Controller) finish(ctx context.Context, sink events.Sink, sess *session.Session, result *Result, content string) (*Result, error) {
	result.Content = content

	if c.guard != nil {
		reflection := c.guard.Reflect(sess.ID)
		c.log.Debug("session %s: reflection: complete=%v action=%s (%s)",
			sess.ID, reflection.IsComplete, reflection.NextAction, reflection.Reasoning)
	}

	err := events.Dispatch(sink, events.Event{
		Type:       events.TypeTurnComplete,
		SessionID:  sess.ID,
		Content:    result.Content,
		StepsTaken: result.StepsTaken,
		Data:       map[string]interface{}{"finish_reason": result.FinishReason},
	})
	return result, err
}

func (c *Controller) emitStepLimit(sink events.Sink, sessionID string, steps int, reason string) {
	_ = events.Dispatch(sink, events.Event{
		Type:       events.TypeStepLimit,
		SessionID:  sessionID,
		StepsTaken: steps,
		Data:       map[string]interface{}{"reason": reason},
	})
}

// systemPrompt combines the static prompt with the guardrail's task context
func (c *Controller) systemPrompt(cfg Config, sessionID string) string {
	prompt := cfg.SystemPrompt
	if c.guard == nil {
		return prompt
	}
	taskContext := c.guard.PromptContext(sessionID)
	if taskContext == "" {
		return prompt
	}
	if prompt == "" {
		return taskContext
	}
	return prompt + "\n\n" + taskContext
}

func decodeArguments(argumentsJSON string) (map[string]interface{}, error) {
	if strings.TrimSpace(argumentsJSON) == "" {
		return map[string]interface{}{}, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(argumentsJSON), &params); err != nil {
		return nil, err
	}
	return params, nil
}

func renderToolResult(result *tools.ToolResult) string {
	if result.Error != "" {
		return "Error: " + result.Error
	}
	switch v := result.Result.(type) {
	case string:
		return v
	default:
		data, err := json.Marshal(result.Result)
		if err != nil {
			return fmt.Sprintf("%v", result.Result)
		}
		return string(data)
	}
}
