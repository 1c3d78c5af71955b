// Package agent ties the pieces together: sessions, guardrail state, and
// the turn controller. One Agent serves many sessions.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/markatally/agentloop/internal/events"
	"github.com/markatally/agentloop/internal/guardrail"
	"github.com/markatally/agentloop/internal/logger"
	"github.com/markatally/agentloop/internal/session"
	"github.com/markatally/agentloop/internal/turn"
)

// Agent handles user messages end to end
type Agent struct {
	sessions   *session.Manager
	guard      *guardrail.Manager
	controller *turn.Controller
	store      *session.Store
	log        *logger.Logger

	// turnMu guards turnLocks; each session gets its own mutex so turns on
	// one session run strictly one at a time while sessions stay concurrent.
	turnMu    sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// New wires an agent. The store may be nil for memory-only operation; it is
// passed separately from the session manager because the agent also writes
// the tool-call audit log through it.
func New(sessions *session.Manager, guard *guardrail.Manager, controller *turn.Controller, store *session.Store) *Agent {
	return &Agent{
		sessions:   sessions,
		guard:      guard,
		controller: controller,
		store:      store,
		log:        logger.Global().WithPrefix("agent"),
		turnLocks:  make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing turns for one session id
func (a *Agent) sessionLock(sessionID string) *sync.Mutex {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	lock, ok := a.turnLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		a.turnLocks[sessionID] = lock
	}
	return lock
}

// HandleMessage processes one user message: resolve the session, establish
// task state for a fresh conversation, run the turn, then persist. The
// returned session carries the id the caller should use for follow-ups.
func (a *Agent) HandleMessage(ctx context.Context, sessionID, userID, text string, sink events.Sink) (*session.Session, *turn.Result, error) {
	sess, err := a.sessions.GetOrCreate(sessionID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	// One turn at a time per session: session history and guardrail state
	// are single-writer, so overlapping turns on the same id must queue.
	lock := a.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	// The first message of a conversation defines the task. Later messages
	// extend the same task; a completed task gets a fresh one.
	task := a.guard.GetTask(sess.ID)
	if task == nil || task.Phase.IsTerminal() {
		a.guard.StartTask(sess.ID, userID, text)
	}

	result, err := a.controller.RunTurn(ctx, sess, text, sink)

	if saveErr := a.sessions.Save(sess); saveErr != nil {
		a.log.Error("failed to save session %s: %v", sess.ID, saveErr)
		if err == nil {
			err = saveErr
		}
	}

	a.persistToolCalls(sess.ID)

	return sess, result, err
}

// persistToolCalls mirrors the guardrail's in-memory history into the audit
// log. The log is append-only in storage; rows already written for earlier
// turns are identified by count.
func (a *Agent) persistToolCalls(sessionID string) {
	if a.store == nil {
		return
	}
	task := a.guard.GetTask(sessionID)
	if task == nil {
		return
	}

	logged, err := a.store.ToolCallLog(sessionID)
	if err != nil {
		a.log.Warn("failed to read tool-call log for %s: %v", sessionID, err)
		return
	}
	if len(logged) >= len(task.ToolCallHistory) {
		return
	}

	for _, record := range task.ToolCallHistory[len(logged):] {
		if err := a.store.LogToolCall(sessionID, record.ToolName, record.Parameters,
			record.Fingerprint, record.Success, record.Timestamp); err != nil {
			a.log.Warn("failed to log tool call for %s: %v", sessionID, err)
			return
		}
	}
}

// Sessions exposes the session manager for listing and deletion
func (a *Agent) Sessions() *session.Manager { return a.sessions }

// ClearSession drops a conversation and its task state
func (a *Agent) ClearSession(sessionID string) error {
	a.guard.ClearTask(sessionID)
	a.turnMu.Lock()
	delete(a.turnLocks, sessionID)
	a.turnMu.Unlock()
	return a.sessions.Delete(sessionID)
}
