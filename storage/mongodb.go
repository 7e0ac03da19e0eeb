package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"webserver/util/goroutine"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by operations that need a client before Connect succeeded
var ErrNotConnected = errors.New("mongodb client not connected")

// ConnState is the lifecycle state of the database connection
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// StateObserver is notified on every state transition. err is set for StateError.
type StateObserver func(state ConnState, err error)

// MongoOptions configures a MongoDB handle
type MongoOptions struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// MongoDB owns the client for a single database. The driver dials lazily, so
// Connect succeeds for unreachable servers and reachability is reported through
// observers instead.
type MongoDB struct {
	opts   MongoOptions
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	state     ConnState
	lastErr   error
	closed    bool
	observers []StateObserver
	client    *mongo.Client
	database  *mongo.Database

	closeOnce sync.Once
	closeErr  error
	stopProbe context.CancelFunc
}

// NewMongoDB creates a handle in the disconnected state
func NewMongoDB(opts MongoOptions, logger *zap.SugaredLogger) *MongoDB {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoDB{
		opts:   opts,
		logger: logger,
		state:  StateDisconnected,
	}
}

// OnStateChange registers an observer. Observers registered after a transition
// do not see it retroactively.
func (m *MongoDB) OnStateChange(fn StateObserver) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current connection state and the last connection error
func (m *MongoDB) State() (ConnState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.lastErr
}

// Connect creates the client and starts a background probe. It only fails
// for configuration problems such as a malformed URI.
func (m *MongoDB) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("failed to connect to MongoDB: handle already closed")
	}
	if m.client != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.transition(StateConnecting, nil)

	clientOptions := options.Client().
		ApplyURI(m.opts.URI).
		SetConnectTimeout(m.opts.ConnectTimeout).
		SetServerSelectionTimeout(m.opts.ConnectTimeout).
		SetServerMonitor(m.serverMonitor())
	if m.opts.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(m.opts.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		m.transition(StateError, err)
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to connect to MongoDB: handle closed during connect")
	}
	m.client = client
	m.database = client.Database(m.opts.Database)
	m.stopProbe = cancel
	m.mu.Unlock()

	goroutine.Go("mongodb-probe", m.logger, func() {
		defer cancel()
		m.probe(probeCtx, client)
	})

	return nil
}

// probe pings once so the first connected/error transition is reported even
// before the heartbeat monitor fires
func (m *MongoDB) probe(ctx context.Context, client *mongo.Client) {
	if err := client.Ping(ctx, nil); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		m.transition(StateError, err)
		return
	}
	m.transition(StateConnected, nil)
}

func (m *MongoDB) serverMonitor() *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatSucceeded: func(*event.ServerHeartbeatSucceededEvent) {
			m.transition(StateConnected, nil)
		},
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			m.transition(StateError, e.Failure)
		},
		TopologyClosed: func(*event.TopologyClosedEvent) {
			m.transition(StateDisconnected, nil)
		},
	}
}

// transition moves to state and notifies observers. Repeated transitions to
// the current state are dropped, and once closed only disconnected is accepted.
func (m *MongoDB) transition(state ConnState, err error) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	if m.closed && state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = state
	if state == StateError {
		m.lastErr = err
	}
	observers := make([]StateObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(state, err)
	}
}

// Database returns the application database, nil before Connect succeeded
func (m *MongoDB) Database() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.database
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx, nil)
}

// Close disconnects the client exactly once. Later calls return the result of
// the first call.
func (m *MongoDB) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		client := m.client
		stop := m.stopProbe
		m.mu.Unlock()

		if stop != nil {
			stop()
		}
		if client != nil {
			if err := client.Disconnect(ctx); err != nil {
				m.closeErr = fmt.Errorf("failed to disconnect from MongoDB: %w", err)
			}
		}
		m.transition(StateDisconnected, nil)
	})
	return m.closeErr
}

// RedactURI hides the password in a connection string before it is logged
func RedactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	authority, tail := rest, ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority, tail = rest[:i], rest[i:]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return uri
	}
	user, _, hasPassword := strings.Cut(authority[:at], ":")
	if !hasPassword {
		return uri
	}
	return scheme + "://" + user + ":xxxxx@" + authority[at+1:] + tail
}
