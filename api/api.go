// Package api assembles the HTTP application: router, middleware chain and
// listener.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"webserver/config"
	"webserver/session"
	"webserver/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Settings are the transport-level values applied by ConfigureTransport
type Settings struct {
	Port           int
	TrustProxyHops int
	StaticDir      string
	ViewsDir       string
}

// API holds the HTTP application
type API struct {
	router   *mux.Router
	chain    Chain
	config   *config.Config
	logger   *zap.SugaredLogger
	sessions *session.Manager
	staticFs afero.Fs
	settings Settings

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewAPI creates the application. staticFs is the filesystem static assets
// are served from, normally afero.NewOsFs().
func NewAPI(cfg *config.Config, sessions *session.Manager, staticFs afero.Fs, logger *zap.SugaredLogger) *API {
	if staticFs == nil {
		staticFs = afero.NewOsFs()
	}
	return &API{
		router:   mux.NewRouter(),
		config:   cfg,
		logger:   logger,
		sessions: sessions,
		staticFs: staticFs,
	}
}

// ConfigureTransport applies port, proxy trust and asset directory settings
func (a *API) ConfigureTransport() {
	a.settings = Settings{
		Port:           a.config.Server.Port,
		TrustProxyHops: a.config.Server.TrustProxyHops,
		StaticDir:      a.config.Server.StaticDir,
		ViewsDir:       a.config.Server.ViewsDir,
	}
	a.logger.Debugw("Transport configured",
		"port", a.settings.Port,
		"trust_proxy_hops", a.settings.TrustProxyHops,
		"static_dir", a.settings.StaticDir,
		"views_dir", a.settings.ViewsDir)
}

// Settings returns the values applied by ConfigureTransport
func (a *API) Settings() Settings {
	return a.settings
}

// ConfigureMiddleware attaches the fixed middleware sequence
func (a *API) ConfigureMiddleware() error {
	a.chain.Use("security_headers", a.securityHeadersMiddleware)
	a.chain.Use("static", Static(a.staticFs, a.settings.StaticDir))
	a.chain.Use("body_parser", a.bodyParserMiddleware)
	a.chain.Use("cookie_parser", a.cookieParserMiddleware)
	a.chain.Use("session", a.sessions.Middleware)
	a.chain.Use("method_override", a.methodOverrideMiddleware)
	a.chain.Use("cors", a.corsMiddleware)

	if a.config.IsProduction() {
		compress, err := newCompressionMiddleware()
		if err != nil {
			return fmt.Errorf("failed to configure compression: %w", err)
		}
		a.chain.Use("compression", compress)
		a.sessions.RequireSecureCookies()
		return nil
	}
	a.chain.Use("logger", a.devLoggerMiddleware)
	return nil
}

// RegisterLocals attaches the request-scoped locals middleware
func (a *API) RegisterLocals() {
	a.chain.Use("locals", a.localsMiddleware)
}

// Middlewares returns the attached middleware names in request order
func (a *API) Middlewares() []string {
	return a.chain.Names()
}

// Handler returns the complete application handler. The chain wraps the
// router so method override is applied before route matching.
func (a *API) Handler() http.Handler {
	return a.errorRecoveryMiddleware(a.clientIPMiddleware(a.metricsMiddleware(a.chain.Then(a.router))))
}

// Listen binds hostname:port and starts serving in the background. It returns
// the bound address.
func (a *API) Listen() (net.Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil, fmt.Errorf("server already listening on %s", a.listener.Addr())
	}

	ln, err := net.Listen("tcp", a.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", a.config.Addr(), err)
	}

	server := &http.Server{
		Handler:           a.Handler(),
		ReadTimeout:       a.config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(a.logger.Desugar()),
	}

	goroutine.Go("http-server", a.logger, func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorw("HTTP server stopped unexpectedly", "error", err)
		}
	})

	a.server = server
	a.listener = ln
	return ln.Addr(), nil
}

// Addr returns the bound address, nil before Listen succeeded
func (a *API) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Stop drains in-flight requests and closes the listener
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
		return fmt.Errorf("failed to drain HTTP server: %w", err)
	}
	return nil
}
