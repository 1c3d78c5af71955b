package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markatally/agentloop/internal/llm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionAddMessageAndHistory(t *testing.T) {
	sess := NewSession("u1")
	assert.NotEmpty(t, sess.ID)

	sess.AddMessage(llm.Message{Role: "user", Content: "hello"})
	sess.AddMessage(llm.Message{Role: "assistant", Content: "hi"})

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.False(t, history[0].Timestamp.IsZero(), "timestamps are stamped on append")
	assert.True(t, sess.Dirty())

	// History returns a copy.
	history[0].Content = "mutated"
	assert.Equal(t, "hello", sess.History()[0].Content)
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	sess := NewSession("u1")
	sess.SetTitle("a conversation")
	sess.AddMessage(llm.Message{Role: "user", Content: "find papers"})
	sess.AddMessage(llm.Message{
		Role: "assistant",
		ToolCalls: []map[string]interface{}{
			{"id": "c1", "type": "function", "function": map[string]interface{}{
				"name": "search", "arguments": `{"query":"papers"}`,
			}},
		},
	})
	sess.AddMessage(llm.Message{Role: "tool", Content: "results", ToolID: "c1", ToolName: "search"})

	require.NoError(t, store.SaveSession(sess))

	loaded, err := store.LoadSession(sess.ID)
	require.NoError(t, err)

	assert.Equal(t, "a conversation", loaded.Title)
	assert.Equal(t, "u1", loaded.UserID)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, "find papers", loaded.Messages[0].Content)
	require.Len(t, loaded.Messages[1].ToolCalls, 1)
	function := loaded.Messages[1].ToolCalls[0]["function"].(map[string]interface{})
	assert.Equal(t, "search", function["name"])
	assert.Equal(t, "c1", loaded.Messages[2].ToolID)
}

func TestStoreLoadMissingSession(t *testing.T) {
	store := openTestStore(t)
	_, err := store.LoadSession("missing")
	assert.ErrorContains(t, err, "not found")
}

func TestStoreListAndDelete(t *testing.T) {
	store := openTestStore(t)

	a := NewSession("u1")
	a.AddMessage(llm.Message{Role: "user", Content: "x"})
	require.NoError(t, store.SaveSession(a))

	b := NewSession("u2")
	require.NoError(t, store.SaveSession(b))

	list, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, store.DeleteSession(a.ID))
	list, err = store.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestStoreToolCallLog(t *testing.T) {
	store := openTestStore(t)

	sess := NewSession("u1")
	require.NoError(t, store.SaveSession(sess))

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.LogToolCall(sess.ID, "search",
		map[string]interface{}{"query": "x"}, 12345, true, at))
	require.NoError(t, store.LogToolCall(sess.ID, "fetch_url", nil, 99, false, at.Add(time.Minute)))

	entries, err := store.ToolCallLog(sess.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "search", entries[0].ToolName)
	assert.Equal(t, uint64(12345), entries[0].Fingerprint)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "x", entries[0].Parameters["query"])
	assert.False(t, entries[1].Success)
	assert.Nil(t, entries[1].Parameters)
}

func TestManagerGetOrCreate(t *testing.T) {
	store := openTestStore(t)
	mgr := NewManager(store)

	sess, err := mgr.GetOrCreate("", "u1")
	require.NoError(t, err)
	require.NotNil(t, sess)

	same, err := mgr.GetOrCreate(sess.ID, "u1")
	require.NoError(t, err)
	assert.Same(t, sess, same)

	fresh, err := mgr.GetOrCreate("unknown-id", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, fresh.ID)
}

func TestManagerLoadsFromStoreOnCacheMiss(t *testing.T) {
	store := openTestStore(t)

	mgr := NewManager(store)
	sess, err := mgr.Create("u1")
	require.NoError(t, err)
	sess.AddMessage(llm.Message{Role: "user", Content: "persisted"})
	require.NoError(t, mgr.Save(sess))
	assert.False(t, sess.Dirty())

	// A second manager simulates a process restart.
	mgr2 := NewManager(store)
	loaded, err := mgr2.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "persisted", loaded.Messages[0].Content)
}

func TestManagerMemoryOnly(t *testing.T) {
	mgr := NewManager(nil)

	sess, err := mgr.Create("u1")
	require.NoError(t, err)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	require.NoError(t, mgr.Delete(sess.ID))
	_, err = mgr.Get(sess.ID)
	assert.Error(t, err)
}
