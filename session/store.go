package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for unknown or expired sessions
var ErrNotFound = errors.New("session not found")

// DefaultTTL applies when the cookie has no max age
const DefaultTTL = 24 * time.Hour

// Store persists session values keyed by session ID. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (map[string]interface{}, error)
	Set(ctx context.Context, id string, values map[string]interface{}, ttl time.Duration) error
	Destroy(ctx context.Context, id string) error
	// Touch extends the expiry of an unmodified session
	Touch(ctx context.Context, id string, ttl time.Duration) error
	Close() error
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
