package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"webserver/api"
	"webserver/config"
	"webserver/session"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned when Start is called more than once
var ErrAlreadyStarted = errors.New("application already started")

// defaultShutdownTimeout bounds request draining when the config leaves it unset
const defaultShutdownTimeout = 10 * time.Second

// App represents the web server with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	DB           Database
	SessionStore session.Store

	// HTTP
	Sessions  *session.Manager
	APIServer *api.API

	staticFs afero.Fs
	raise    func(os.Signal) error

	// Lifecycle
	mu           sync.Mutex
	started      bool
	ready        chan struct{}
	signalCh     chan os.Signal
	signalsOnce  sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes an App
type Option func(*App)

// WithDatabase replaces the MongoDB handle built from the config
func WithDatabase(db Database) Option {
	return func(a *App) { a.DB = db }
}

// WithSessionStore replaces the session store selected by session.store
func WithSessionStore(store session.Store) Option {
	return func(a *App) { a.SessionStore = store }
}

// WithStaticFs serves static assets from fs instead of the OS filesystem
func WithStaticFs(fs afero.Fs) Option {
	return func(a *App) { a.staticFs = fs }
}

// WithSignalRaiser replaces how the restart signal is re-delivered
func WithSignalRaiser(raise func(os.Signal) error) Option {
	return func(a *App) { a.raise = raise }
}

// NewApp creates a new application instance. Nothing is connected or bound
// until Start.
func NewApp(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Sugar:    logger.Sugar(),
		staticFs: afero.NewOsFs(),
		raise:    raiseSignal,
		ready:    make(chan struct{}),
		signalCh: make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.DB == nil {
		app.DB = NewDatabase(cfg, app.Sugar)
	}
	return app, nil
}

// Ready is closed once Start has returned, successfully or not
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Start runs the startup sequence: database, termination handlers, transport,
// middleware, locals, routes and finally the listener. Database failures are
// logged and never abort startup.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()
	defer close(a.ready)

	logConfig(a.Config, a.Sugar)

	// Step 1: database connection with lifecycle observers
	a.DB.OnStateChange(databaseObserver(a.Config.MongoDB.URI, a.Sugar))
	if err := a.DB.Connect(ctx); err != nil {
		a.Sugar.Warnw("Continuing without a database connection", "error", err)
	}

	// Step 2: termination handlers
	a.registerSignals()

	// Step 3: transport settings
	if a.SessionStore == nil {
		store, err := InitSessionStore(ctx, a.Config, a.DB, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}
		a.SessionStore = store
	}
	sessions, err := session.NewManager(session.Options{
		Name:      a.Config.Session.Name,
		Secret:    a.Config.Session.Secret,
		MaxAge:    a.Config.Session.MaxAge,
		Store:     a.SessionStore,
		StoreName: a.Config.Session.Store,
		Logger:    a.Sugar,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	a.Sessions = sessions
	a.APIServer = api.NewAPI(a.Config, sessions, a.staticFs, a.Sugar)
	a.APIServer.ConfigureTransport()

	// Step 4: middleware in fixed order
	if err := a.APIServer.ConfigureMiddleware(); err != nil {
		return fmt.Errorf("failed to configure middleware: %w", err)
	}

	// Step 5: request-scoped locals
	a.APIServer.RegisterLocals()
	a.Sugar.Debugw("Middleware attached", "order", a.APIServer.Middlewares())

	// Step 6: routes
	a.APIServer.RegisterRoutes()

	// Step 7: listener
	addr, err := a.APIServer.Listen()
	if err != nil {
		a.Sugar.Error(err.Error())
		a.Sugar.Debug(ClassifyBindError(err, a.Config.Addr()))
		return fmt.Errorf("failed to start listener: %w", err)
	}
	a.Sugar.Infof("Web Server running at http://%s", addr.String())
	a.Sugar.Info("press Ctrl-C to terminate.")

	a.Sugar.Info("Server running smoothly...")
	return nil
}

// Shutdown drains HTTP requests, closes the session store and releases the
// database. It runs once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context, reason string) error {
	a.shutdownOnce.Do(func() {
		a.Sugar.Infow("Shutting down...", "reason", reason)
		var errs []error

		// Phase 1 - Drain in-flight requests
		if a.APIServer != nil {
			timeout := a.Config.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = defaultShutdownTimeout
			}
			drainCtx, cancel := context.WithTimeout(ctx, timeout)
			if err := a.APIServer.Stop(drainCtx); err != nil {
				a.Sugar.Errorw("Failed to stop HTTP server", "error", err)
				errs = append(errs, err)
			}
			cancel()
		}

		// Phase 2 - Close session store
		if a.SessionStore != nil {
			if err := a.SessionStore.Close(); err != nil {
				a.Sugar.Errorw("Failed to close session store", "error", err)
				errs = append(errs, fmt.Errorf("failed to close session store: %w", err))
			}
		}

		// Phase 3 - Release the database
		if err := a.DB.Close(ctx); err != nil {
			a.Sugar.Errorw("Failed to close MongoDB connection", "error", err)
			errs = append(errs, err)
		}
		a.Sugar.Infof("MongoDB disconnected through %s", reason)

		a.shutdownErr = errors.Join(errs...)
		_ = a.Logger.Sync()
	})
	return a.shutdownErr
}

// Terminate performs the scoped release for sig and returns the process exit
// code. The restart signal is re-delivered after the release.
func (a *App) Terminate(ctx context.Context, sig os.Signal) int {
	_ = a.Shutdown(ctx, shutdownReason(sig))
	a.stopSignals()

	if restartSignal != nil && sig == restartSignal {
		if err := a.raise(sig); err != nil {
			a.Sugar.Errorw("Failed to re-raise restart signal", "signal", sig.String(), "error", err)
			return 1
		}
		return signalExitCode(sig)
	}
	return 0
}

// Run starts the server and blocks until a termination signal or ctx is done.
// In strict startup mode a startup error releases resources and returns 1;
// in graceful mode the process stays up until it is told to terminate.
func (a *App) Run(ctx context.Context) int {
	if err := a.Start(ctx); err != nil {
		a.Sugar.Errorw("Failed to start web server", "error", err)
		if !a.Config.IsGracefulMode() {
			_ = a.Shutdown(context.WithoutCancel(ctx), "startup failure")
			a.stopSignals()
			return 1
		}
		a.Sugar.Warn("Graceful startup mode: waiting for a termination signal")
	}
	a.registerSignals()

	select {
	case sig := <-a.signalCh:
		a.Sugar.Infow("Received signal", "signal", sig.String())
		return a.Terminate(context.WithoutCancel(ctx), sig)
	case <-ctx.Done():
		_ = a.Shutdown(context.WithoutCancel(ctx), "context canceled")
		a.stopSignals()
		return 0
	}
}

func (a *App) registerSignals() {
	a.signalsOnce.Do(func() {
		signal.Notify(a.signalCh, terminationSignals()...)
	})
}

func (a *App) stopSignals() {
	signal.Stop(a.signalCh)
}

// shutdownReason names the trigger in the disconnect log line
func shutdownReason(sig os.Signal) string {
	switch {
	case sig == nil:
		return "unknown signal"
	case restartSignal != nil && sig == restartSignal:
		return "restart"
	case sig == os.Interrupt:
		return "app termination"
	case sig == shutdownSignal:
		return "platform shutdown"
	default:
		return "signal " + sig.String()
	}
}
