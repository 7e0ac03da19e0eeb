// Package session implements cookie-identified server-side sessions with
// pluggable stores.
package session

import (
	"context"
	"sync"
)

// UserKey is the session key holding the authenticated user, if any
const UserKey = "user"

// Session is the per-request view of a stored session. It is safe for
// concurrent use by handlers of the same request.
type Session struct {
	mu        sync.RWMutex
	id        string
	values    map[string]interface{}
	isNew     bool
	modified  bool
	destroyed bool
}

func newSession(id string, values map[string]interface{}, isNew bool) *Session {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Session{id: id, values: values, isNew: isNew}
}

// ID returns the session identifier. Every request carries one, even when the
// session is never persisted.
func (s *Session) ID() string {
	return s.id
}

// Get returns the value stored under key
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value stored under key if it is a string
func (s *Session) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Set stores value under key and marks the session for saving
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	s.values[key] = value
	s.modified = true
	s.mu.Unlock()
}

// Delete removes key and marks the session for saving
func (s *Session) Delete(key string) {
	s.mu.Lock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
	s.mu.Unlock()
}

// Destroy removes the session from the store when the response is committed
// and expires the cookie.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.values = make(map[string]interface{})
	s.mu.Unlock()
}

// IsNew reports whether the session was created by this request
func (s *Session) IsNew() bool {
	return s.isNew
}

// Modified reports whether the session has changes that need saving
func (s *Session) Modified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

func (s *Session) isDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

func (s *Session) snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

type contextKey struct{}

// WithSession returns a copy of ctx carrying s
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session attached by the middleware
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
