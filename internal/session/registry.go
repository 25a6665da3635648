package session

import (
	"fmt"
	"sync"
)

// Factory creates the session for a username.
type Factory func(username string) (*Session, error)

// Registry owns sessions: one per username, created on first use and closed explicitly.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, sessions: make(map[string]*Session)}
}

// Get returns the session for username, creating it if needed.
func (r *Registry) Get(username string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[username]; ok {
		return s, nil
	}
	s, err := r.factory(username)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", username, err)
	}
	r.sessions[username] = s
	return s, nil
}

// Close tears down the session for username, if any.
func (r *Registry) Close(username string) {
	r.mu.Lock()
	s, ok := r.sessions[username]
	delete(r.sessions, username)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
