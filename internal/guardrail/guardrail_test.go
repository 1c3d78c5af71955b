package guardrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func newTestManager() *Manager {
	cfg := DefaultConfig()
	cfg.Now = fixedClock()
	return NewManager(cfg, nil)
}

func TestDecideWithoutTaskAllowsEverything(t *testing.T) {
	m := newTestManager()
	decision := m.Decide("no-such-session", "search", map[string]interface{}{"query": "anything"})
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestDecideIsIdempotent(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "search for recent robotics papers")
	params := map[string]interface{}{"query": "robotics"}

	first := m.Decide("s1", "search", params)
	second := m.Decide("s1", "search", params)
	assert.Equal(t, first, second)

	m.RecordCall("s1", "search", params, "results", true)
	first = m.Decide("s1", "search", params)
	second = m.Decide("s1", "search", params)
	assert.Equal(t, first, second)
	assert.False(t, first.Allowed)
}

func TestSearchBudgetExhaustion(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "find the latest llm inference benchmarks")

	params := map[string]interface{}{"query": "llm inference benchmarks"}
	decision := m.Decide("s1", "search", params)
	require.True(t, decision.Allowed)

	m.RecordCall("s1", "search", params, "ten results", true)

	decision = m.Decide("s1", "search", params)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "synthesize")

	// The cap spans the whole search class, not a single tool name.
	decision = m.Decide("s1", "web_search", params)
	assert.False(t, decision.Allowed)

	// Non-search tools are unaffected.
	decision = m.Decide("s1", "create_file", map[string]interface{}{"path": "out.md"})
	assert.True(t, decision.Allowed)
}

func TestFailedSearchDoesNotConsumeBudget(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "search for something")

	params := map[string]interface{}{"query": "something"}
	m.RecordCall("s1", "search", params, nil, false)

	decision := m.Decide("s1", "search", params)
	assert.True(t, decision.Allowed)
}

func TestConsecutiveFailureCap(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "fetch https://example.com/page and summarize it")

	params := map[string]interface{}{"url": "https://example.com/page"}
	m.RecordCall("s1", "fetch_url", params, nil, false)

	decision := m.Decide("s1", "fetch_url", params)
	require.True(t, decision.Allowed, "one failure is below the cap")

	m.RecordCall("s1", "fetch_url", params, nil, false)

	decision = m.Decide("s1", "fetch_url", params)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "failed 2 times")

	// Other tools keep working.
	decision = m.Decide("s1", "create_file", map[string]interface{}{"path": "x"})
	assert.True(t, decision.Allowed)
}

func TestInterleavedSuccessResetsFailureStreak(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "fetch a page")

	params := map[string]interface{}{"url": "https://example.com"}
	m.RecordCall("s1", "fetch_url", params, nil, false)
	m.RecordCall("s1", "fetch_url", params, "content", true)
	m.RecordCall("s1", "fetch_url", params, nil, false)

	// One failure since the last success: still under the cap.
	decision := m.Decide("s1", "fetch_url", params)
	assert.True(t, decision.Allowed)

	// Failures of a different tool in between do not merge streaks.
	m.RecordCall("s1", "download_media", params, nil, false)
	m.RecordCall("s1", "fetch_url", params, nil, false)
	decision = m.Decide("s1", "fetch_url", params)
	assert.False(t, decision.Allowed)
}

func TestCompletedTaskRejectsFurtherCalls(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "search for the latest go release notes")

	m.RecordCall("s1", "search", map[string]interface{}{"query": "go release notes"}, "notes", true)
	reflection := m.Reflect("s1")
	require.True(t, reflection.IsComplete)

	decision := m.Decide("s1", "fetch_url", map[string]interface{}{"url": "https://go.dev"})
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "complete")
}

func TestProgressQueryAfterArtifactRejected(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "write a report on solar capacity trends")

	m.RecordCall("s1", "create_file", map[string]interface{}{"path": "report.md"}, "file", true)

	decision := m.Decide("s1", "search", map[string]interface{}{"query": "status update on the report"})
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "artifact already exists")

	// A genuine follow-up query about the world is not a progress query,
	// but the search budget rule does not apply here either since no
	// successful search was recorded. It must be allowed.
	decision = m.Decide("s1", "search", map[string]interface{}{"query": "solar capacity 2026"})
	assert.True(t, decision.Allowed)
}

func TestPlanConstruction(t *testing.T) {
	m := newTestManager()

	task := m.StartTask("s1", "u1", "download https://youtube.com/watch?v=abc123 and write a transcript summary document")
	require.NotNil(t, task)

	kinds := make([]StepKind, 0, len(task.Plan))
	for _, step := range task.Plan {
		kinds = append(kinds, step.Kind)
		assert.NotEmpty(t, step.ID)
		assert.Equal(t, StepPending, step.Status)
	}

	assert.Equal(t, StepProbe, kinds[0], "media URLs are probed first")
	assert.Equal(t, StepFinalize, kinds[len(kinds)-1], "every plan ends in finalize")
	assert.Contains(t, kinds, StepGenerateArtifact)
	assert.NotContains(t, kinds, StepSearch, "a media URL suppresses inferred search intent")
}

func TestReflectAdvancesToFirstPendingStep(t *testing.T) {
	m := newTestManager()
	task := m.StartTask("s1", "u1", "search for quantum error correction papers and write a summary document")

	require.GreaterOrEqual(t, len(task.Plan), 3)
	require.Equal(t, StepSearch, task.Plan[0].Kind)

	m.RecordCall("s1", "search", map[string]interface{}{"query": "quantum error correction"}, "papers", true)

	reflection := m.Reflect("s1")
	assert.False(t, reflection.IsComplete)
	assert.True(t, reflection.ShouldContinue)
	assert.Equal(t, ActionContinue, reflection.NextAction)

	task = m.GetTask("s1")
	assert.Equal(t, StepCompleted, task.Plan[0].Status)
	assert.Equal(t, 1, task.CurrentStepIndex)
}

func TestReflectArtifactCompletion(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "write a markdown report about tidal energy")

	m.RecordCall("s1", "create_file", map[string]interface{}{"path": "tidal.md"}, "file", true)

	reflection := m.Reflect("s1")
	assert.True(t, reflection.IsComplete)
	assert.Equal(t, ActionComplete, reflection.NextAction)
	assert.Equal(t, PhaseCompleted, m.GetTask("s1").Phase)
}

func TestReflectSearchOnlyCompletion(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "search for the population of iceland")

	m.RecordCall("s1", "search", map[string]interface{}{"query": "population of iceland"}, "results", true)

	reflection := m.Reflect("s1")
	assert.True(t, reflection.IsComplete)
}

func TestReflectWithoutTask(t *testing.T) {
	m := newTestManager()
	reflection := m.Reflect("missing")
	assert.False(t, reflection.IsComplete)
	assert.Equal(t, ActionNeedMoreInfo, reflection.NextAction)
}

func TestRecordCallAppendOnlyHistory(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "fetch a couple of pages")

	m.RecordCall("s1", "fetch_url", map[string]interface{}{"url": "https://a.example"}, "a", true)
	m.RecordCall("s1", "fetch_url", map[string]interface{}{"url": "https://b.example"}, nil, false)

	task := m.GetTask("s1")
	require.Len(t, task.ToolCallHistory, 2)
	assert.True(t, task.ToolCallHistory[0].Success)
	assert.False(t, task.ToolCallHistory[1].Success)
	assert.Equal(t, PhaseExecuting, task.Phase)
	assert.NotEqual(t, task.ToolCallHistory[0].Fingerprint, task.ToolCallHistory[1].Fingerprint)
}

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a := fingerprintParams("search", map[string]interface{}{"query": "x", "num_results": float64(5)})
	b := fingerprintParams("search", map[string]interface{}{"num_results": float64(5), "query": "x"})
	assert.Equal(t, a, b)

	c := fingerprintParams("web_search", map[string]interface{}{"query": "x", "num_results": float64(5)})
	assert.NotEqual(t, a, c, "tool name participates in the fingerprint")
}

func TestPromptContextRendering(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "search for recent fusion results and write a summary document")

	ctx := m.PromptContext("s1")
	assert.Contains(t, ctx, "Current date: 2026-02-10")
	assert.Contains(t, ctx, "Plan:")
	assert.Contains(t, ctx, "Search tools are high-cost")
	assert.Contains(t, ctx, "Never silently relax")

	assert.Empty(t, m.PromptContext("missing"))
}

func TestPromptContextFlagsRepeatedCalls(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "fetch a page")

	params := map[string]interface{}{"url": "https://example.com"}
	m.RecordCall("s1", "fetch_url", params, nil, false)
	m.RecordCall("s1", "fetch_url", params, nil, false)

	ctx := m.PromptContext("s1")
	assert.Contains(t, ctx, "identical tool call has already been made 2 times")
}

func TestClearTask(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "anything")
	require.NotNil(t, m.GetTask("s1"))
	m.ClearTask("s1")
	assert.Nil(t, m.GetTask("s1"))
}

func TestSetLimitsTakesEffectOnNextDecide(t *testing.T) {
	m := newTestManager()
	m.StartTask("s1", "u1", "find the latest llm inference benchmarks")
	params := map[string]interface{}{"query": "llm inference benchmarks"}

	m.RecordCall("s1", "search", params, "results", true)
	require.False(t, m.Decide("s1", "search", params).Allowed)

	// A raised cap applies immediately to subsequent decisions.
	m.SetLimits(2, 0)
	assert.True(t, m.Decide("s1", "search", params).Allowed)

	// Non-positive values leave the caps alone.
	m.SetLimits(0, -1)
	assert.True(t, m.Decide("s1", "search", params).Allowed)
}
