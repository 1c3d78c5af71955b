package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markatally/agentloop/internal/llm"
	"github.com/markatally/agentloop/internal/logger"
)

// Session is one conversation: an ordered message history plus bookkeeping.
// All mutation goes through methods so the lock discipline stays in one
// place.
type Session struct {
	ID        string
	UserID    string
	Title     string
	Messages  []llm.Message
	CreatedAt time.Time
	UpdatedAt time.Time

	mu    sync.RWMutex
	dirty bool
}

// NewSession creates a session with a generated id
func NewSession(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message to the history
func (s *Session) AddMessage(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
	s.dirty = true
}

// History returns a copy of the message slice; callers may not mutate the
// session through it.
func (s *Session) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// MessageCount returns the number of messages in the session
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// SetTitle updates the session title
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Title = title
	s.dirty = true
}

// Dirty reports whether the session has unsaved changes
func (s *Session) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func (s *Session) markSaved() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// Manager owns the in-memory session set and write-through persistence.
// A nil store keeps sessions memory-only.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *Store
	log      *logger.Logger
}

// NewManager creates a session manager backed by an optional store
func NewManager(store *Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		log:      logger.Global().WithPrefix("session"),
	}
}

// Create makes a new session and persists it
func (m *Manager) Create(userID string) (*Session, error) {
	sess := NewSession(userID)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if err := m.Save(sess); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}
	return sess, nil
}

// Get returns a session by id, loading it from the store on a cache miss
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	if m.store == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	sess, err := m.store.LoadSession(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// GetOrCreate returns the session with the given id, creating it when the
// id is empty or unknown.
func (m *Manager) GetOrCreate(id, userID string) (*Session, error) {
	if id != "" {
		if sess, err := m.Get(id); err == nil {
			return sess, nil
		}
	}
	return m.Create(userID)
}

// Save writes the session through to the store
func (m *Manager) Save(sess *Session) error {
	if m.store == nil {
		sess.markSaved()
		return nil
	}
	if err := m.store.SaveSession(sess); err != nil {
		return err
	}
	sess.markSaved()
	return nil
}

// Delete removes a session from memory and storage
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.DeleteSession(id)
}

// List returns metadata for all stored sessions; memory-only managers list
// the in-memory set.
func (m *Manager) List() ([]Metadata, error) {
	if m.store != nil {
		return m.store.ListSessions()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Metadata, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, Metadata{
			ID:           sess.ID,
			UserID:       sess.UserID,
			Title:        sess.Title,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			MessageCount: sess.MessageCount(),
		})
	}
	return out, nil
}

// Metadata is the lightweight listing form of a session
type Metadata struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}
