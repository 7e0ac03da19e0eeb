package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"webserver/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// storeTimeout bounds each store round trip made on behalf of a request
const storeTimeout = 5 * time.Second

// Options configures a Manager
type Options struct {
	// Name is the cookie name
	Name   string
	Secret string
	// MaxAge sets the cookie lifetime; zero gives a browser-session cookie
	MaxAge   time.Duration
	Path     string
	SameSite http.SameSite
	Secure   bool
	Store    Store
	// StoreName labels metrics
	StoreName string
	Logger    *zap.SugaredLogger
}

// Manager loads the session for every request and commits it before the
// response headers go out. A session is only persisted, and its cookie only
// set, once something has been stored in it.
type Manager struct {
	opts   Options
	signer *signer
	secure atomic.Bool
	logger *zap.SugaredLogger
}

// NewManager validates opts and builds a Manager
func NewManager(opts Options) (*Manager, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("session cookie name cannot be empty")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	s, err := newSigner(opts.Secret)
	if err != nil {
		return nil, err
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	if opts.StoreName == "" {
		opts.StoreName = "custom"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	m := &Manager{opts: opts, signer: s, logger: logger}
	m.secure.Store(opts.Secure)
	return m, nil
}

// RequireSecureCookies marks every cookie issued from now on as Secure
func (m *Manager) RequireSecureCookies() {
	m.secure.Store(true)
}

// SecureCookies reports whether issued cookies carry the Secure attribute
func (m *Manager) SecureCookies() bool {
	return m.secure.Load()
}

// Store returns the backing store
func (m *Manager) Store() Store {
	return m.opts.Store
}

// Middleware attaches a Session to the request context
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.load(r)
		cw := &commitWriter{ResponseWriter: w, commit: func() { m.commit(r.Context(), w, sess) }}
		next.ServeHTTP(cw, r.WithContext(WithSession(r.Context(), sess)))
		cw.commitOnce()
	})
}

func (m *Manager) load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.opts.Name)
	if err != nil {
		return m.fresh()
	}
	id, ok := m.signer.unsign(cookie.Value)
	if !ok {
		m.logger.Debugw("Rejected session cookie with invalid signature", "cookie", m.opts.Name)
		return m.fresh()
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	values, err := m.opts.Store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.SessionStoreErrors.WithLabelValues(m.opts.StoreName, "get").Inc()
			m.logger.Warnw("Failed to load session, starting a new one", "error", err)
		}
		return m.fresh()
	}
	return newSession(id, values, false)
}

func (m *Manager) fresh() *Session {
	return newSession(uuid.New().String(), nil, true)
}

// commit runs at most once per request, before the status line is written
func (m *Manager) commit(parent context.Context, w http.ResponseWriter, sess *Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), storeTimeout)
	defer cancel()

	switch {
	case sess.isDestroyed():
		if !sess.IsNew() {
			if err := m.opts.Store.Destroy(ctx, sess.ID()); err != nil {
				metrics.SessionStoreErrors.WithLabelValues(m.opts.StoreName, "destroy").Inc()
				m.logger.Warnw("Failed to destroy session", "session_id", sess.ID(), "error", err)
			}
		}
		http.SetCookie(w, m.cookie("", -1))

	case sess.Modified():
		if err := m.opts.Store.Set(ctx, sess.ID(), sess.snapshot(), m.opts.MaxAge); err != nil {
			metrics.SessionStoreErrors.WithLabelValues(m.opts.StoreName, "set").Inc()
			m.logger.Errorw("Failed to save session", "session_id", sess.ID(), "error", err)
			return
		}
		metrics.SessionsSaved.WithLabelValues(m.opts.StoreName).Inc()
		maxAge := 0
		if m.opts.MaxAge > 0 {
			maxAge = int(m.opts.MaxAge / time.Second)
		}
		http.SetCookie(w, m.cookie(m.signer.sign(sess.ID()), maxAge))

	case !sess.IsNew():
		if err := m.opts.Store.Touch(ctx, sess.ID(), m.opts.MaxAge); err != nil && !errors.Is(err, ErrNotFound) {
			metrics.SessionStoreErrors.WithLabelValues(m.opts.StoreName, "touch").Inc()
			m.logger.Warnw("Failed to touch session", "session_id", sess.ID(), "error", err)
		}
	}
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     m.opts.Name,
		Value:    value,
		Path:     m.opts.Path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure.Load(),
		SameSite: m.opts.SameSite,
	}
	if maxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	return c
}

// commitWriter commits the session right before the first header write
type commitWriter struct {
	http.ResponseWriter
	once   sync.Once
	commit func()
}

func (cw *commitWriter) commitOnce() {
	cw.once.Do(cw.commit)
}

func (cw *commitWriter) WriteHeader(code int) {
	cw.commitOnce()
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *commitWriter) Write(b []byte) (int, error) {
	cw.commitOnce()
	return cw.ResponseWriter.Write(b)
}

func (cw *commitWriter) Flush() {
	cw.commitOnce()
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *commitWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := cw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (cw *commitWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
