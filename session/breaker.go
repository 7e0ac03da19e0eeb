package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStoreUnavailable is returned without contacting the store while the breaker is open
var ErrStoreUnavailable = errors.New("session store unavailable")

// BreakerState is the state of a BreakerStore
type BreakerState string

const (
	// BreakerClosed passes every call through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails calls immediately
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a single trial call through
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerOptions configures a BreakerStore
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures uint32
	// Cooldown is how long the breaker stays open before letting a trial call through
	Cooldown time.Duration
}

// BreakerStore wraps a remote Store so an unreachable backend costs one
// fast error per request instead of a dial timeout. ErrNotFound is a
// successful answer and never trips the breaker.
type BreakerStore struct {
	Store
	opts   BreakerOptions
	name   string
	logger *zap.SugaredLogger
	now    func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      uint32
	openedAt      time.Time
	trialInFlight bool
}

// NewBreakerStore wraps store. name identifies the backend in logs.
func NewBreakerStore(store Store, name string, opts BreakerOptions, logger *zap.SugaredLogger) (*BreakerStore, error) {
	if opts.MaxFailures == 0 {
		return nil, fmt.Errorf("breaker max failures must be greater than 0")
	}
	if opts.Cooldown <= 0 {
		return nil, fmt.Errorf("breaker cooldown must be greater than 0")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BreakerStore{
		Store:  store,
		opts:   opts,
		name:   name,
		logger: logger,
		now:    time.Now,
		state:  BreakerClosed,
	}, nil
}

// State returns the current breaker state
func (b *BreakerStore) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerStore) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.opts.Cooldown {
			return ErrStoreUnavailable
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrStoreUnavailable
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// errStorePanicked is recorded when the wrapped store panics
var errStorePanicked = errors.New("session store panicked")

// record settles a call. Calls abandoned because the request was canceled
// say nothing about the backend and only release the trial slot.
func (b *BreakerStore) record(ctx context.Context, err error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)) {
		b.mu.Lock()
		b.trialInFlight = false
		b.mu.Unlock()
		return
	}
	failed := err != nil && !errors.Is(err, ErrNotFound)

	b.mu.Lock()
	old := b.state
	b.trialInFlight = false
	if !failed {
		b.failures = 0
		b.state = BreakerClosed
	} else {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.opts.MaxFailures {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	}
	state := b.state
	b.mu.Unlock()

	if old == state {
		return
	}
	switch state {
	case BreakerOpen:
		b.logger.Warnw("Session store breaker opened", "store", b.name, "error", err, "cooldown", b.opts.Cooldown)
	case BreakerClosed:
		b.logger.Infow("Session store breaker closed", "store", b.name)
	}
}

func (b *BreakerStore) call(ctx context.Context, fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := errStorePanicked
	defer func() { b.record(ctx, err) }()
	err = fn()
	return err
}

// Get loads a session through the breaker
func (b *BreakerStore) Get(ctx context.Context, id string) (map[string]interface{}, error) {
	var values map[string]interface{}
	err := b.call(ctx, func() error {
		var err error
		values, err = b.Store.Get(ctx, id)
		return err
	})
	return values, err
}

// Set saves a session through the breaker
func (b *BreakerStore) Set(ctx context.Context, id string, values map[string]interface{}, ttl time.Duration) error {
	return b.call(ctx, func() error { return b.Store.Set(ctx, id, values, ttl) })
}

// Destroy removes a session through the breaker
func (b *BreakerStore) Destroy(ctx context.Context, id string) error {
	return b.call(ctx, func() error { return b.Store.Destroy(ctx, id) })
}

// Touch extends a session through the breaker
func (b *BreakerStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	return b.call(ctx, func() error { return b.Store.Touch(ctx, id, ttl) })
}
