package agent

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markatally/agentloop/internal/events"
	"github.com/markatally/agentloop/internal/guardrail"
	"github.com/markatally/agentloop/internal/llm"
	"github.com/markatally/agentloop/internal/session"
	"github.com/markatally/agentloop/internal/tools"
	"github.com/markatally/agentloop/internal/turn"
)

// scriptedClient emits one tool call on the first generation and plain text
// afterwards.
type scriptedClient struct {
	calls int
}

func (c *scriptedClient) StreamTurn(ctx context.Context, req *llm.StreamRequest, callback func(llm.Fragment) error) error {
	c.calls++
	if c.calls == 1 {
		if err := callback(llm.Fragment{
			Type: llm.FragmentToolCall, ToolCallID: "c1", ToolName: "probe", ArgumentsJSON: `{"target":"x"}`,
		}); err != nil {
			return err
		}
		return callback(llm.Fragment{Type: llm.FragmentDone, StopReason: "tool_use"})
	}
	if err := callback(llm.Fragment{Type: llm.FragmentContent, Text: "all done"}); err != nil {
		return err
	}
	return callback(llm.Fragment{Type: llm.FragmentDone, StopReason: "end_turn"})
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }

type probeSpec struct{}

func (probeSpec) Name() string        { return "probe" }
func (probeSpec) Description() string { return "probe something" }
func (probeSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

type probeExecutor struct{}

func (probeExecutor) Execute(ctx context.Context, params map[string]interface{}) *tools.ToolResult {
	return &tools.ToolResult{Result: "probed"}
}

func newTestAgent(t *testing.T) (*Agent, *session.Store, *guardrail.Manager) {
	t.Helper()

	store, err := session.OpenStore(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := tools.NewRegistry()
	registry.RegisterSpec(probeSpec{}, func(reg *tools.Registry) tools.ToolExecutor { return probeExecutor{} })

	guard := guardrail.NewManager(guardrail.DefaultConfig(), nil)
	controller := turn.NewController(&scriptedClient{}, registry, guard, turn.Config{MaxSteps: 5})

	return New(session.NewManager(store), guard, controller, store), store, guard
}

func TestHandleMessageEndToEnd(t *testing.T) {
	ag, store, guard := newTestAgent(t)

	sess, result, err := ag.HandleMessage(context.Background(), "", "u1", "probe the thing", events.NewRecorder())
	require.NoError(t, err)

	assert.Equal(t, turn.FinishStop, result.FinishReason)
	assert.Equal(t, 2, result.StepsTaken)
	assert.Equal(t, "all done", result.Content)

	// A task was established for the session.
	task := guard.GetTask(sess.ID)
	require.NotNil(t, task)
	require.Len(t, task.ToolCallHistory, 1)
	assert.Equal(t, "probe", task.ToolCallHistory[0].ToolName)

	// The conversation and the audit log were persisted.
	loaded, err := store.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(loaded.Messages), 4, "user, assistant tool-call, tool result, final answer")

	log, err := store.ToolCallLog(sess.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "probe", log[0].ToolName)
	assert.True(t, log[0].Success)
}

func TestHandleMessageReusesSession(t *testing.T) {
	ag, _, guard := newTestAgent(t)

	sess, _, err := ag.HandleMessage(context.Background(), "", "u1", "probe it", events.NewRecorder())
	require.NoError(t, err)
	firstTask := guard.GetTask(sess.ID)

	again, _, err := ag.HandleMessage(context.Background(), sess.ID, "u1", "and then?", events.NewRecorder())
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)

	// A completed task is replaced; an active one is kept.
	if firstTask.Phase.IsTerminal() {
		assert.NotSame(t, firstTask, guard.GetTask(sess.ID))
	} else {
		assert.Same(t, firstTask, guard.GetTask(sess.ID))
	}
}

func TestClearSession(t *testing.T) {
	ag, _, guard := newTestAgent(t)

	sess, _, err := ag.HandleMessage(context.Background(), "", "u1", "probe", events.NewRecorder())
	require.NoError(t, err)

	require.NoError(t, ag.ClearSession(sess.ID))
	assert.Nil(t, guard.GetTask(sess.ID))
	_, err = ag.Sessions().Get(sess.ID)
	assert.Error(t, err)
}

// slowClient records how many generations overlap in time
type slowClient struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *slowClient) StreamTurn(ctx context.Context, req *llm.StreamRequest, callback func(llm.Fragment) error) error {
	current := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxSeen.Load()
		if current <= max || c.maxSeen.CompareAndSwap(max, current) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)

	if err := callback(llm.Fragment{Type: llm.FragmentContent, Text: "ok"}); err != nil {
		return err
	}
	return callback(llm.Fragment{Type: llm.FragmentDone, StopReason: "end_turn"})
}

func (c *slowClient) Complete(ctx context.Context, prompt string) (string, error) { return "", nil }
func (c *slowClient) GetModelName() string                                        { return "slow" }

func TestHandleMessageSerializesTurnsPerSession(t *testing.T) {
	client := &slowClient{}
	guard := guardrail.NewManager(guardrail.DefaultConfig(), nil)
	controller := turn.NewController(client, tools.NewRegistry(), guard, turn.Config{MaxSteps: 3})
	ag := New(session.NewManager(nil), guard, controller, nil)

	sess, _, err := ag.HandleMessage(context.Background(), "", "u1", "first", events.NewRecorder())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := ag.HandleMessage(context.Background(), sess.ID, "u1", "again", events.NewRecorder())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), client.maxSeen.Load(),
		"turns on one session never overlap")

	// Five turns, each appending one user and one assistant message, with
	// no interleaving between turns.
	assert.Equal(t, 10, sess.MessageCount())
}
