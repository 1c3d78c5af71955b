// Package secrets keeps provider API keys in memguard-protected memory so
// they cannot be read from a core dump or swap once loaded from config.
package secrets

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Store holds named secrets in locked, encrypted memory.
type Store struct {
	mu    sync.RWMutex
	items map[string]*memguard.Enclave
}

// NewStore creates an empty secret store.
func NewStore() *Store {
	return &Store{items: make(map[string]*memguard.Enclave)}
}

// Set seals a secret under the given key, replacing any previous value.
// The input string is copied into protected memory; callers should not
// retain their own copies longer than necessary.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		delete(s.items, key)
		return
	}
	s.items[key] = memguard.NewEnclave([]byte(value))
}

// Get opens the secret for the given key and returns it as a plain string.
// The returned copy lives in regular memory; use it promptly and let it go.
// Returns "" when the key is absent or the enclave cannot be opened.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	enclave, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return ""
	}

	buf, err := enclave.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()

	return string(buf.Bytes())
}

// Has reports whether a secret exists under the key.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[key]
	return ok
}

// Purge wipes all stored secrets.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*memguard.Enclave)
}
