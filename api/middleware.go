package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webserver/metrics"
	"webserver/session"
	"webserver/util"

	"github.com/klauspost/compress/gzhttp"
)

// compressionMinSize is the smallest body worth compressing
const compressionMinSize = 1024

// methodOverrideField is the form and query field carrying the override
const methodOverrideField = "_method"

// overridableMethods are the methods a POST may be turned into
var overridableMethods = map[string]bool{
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// bodyParserMiddleware parses JSON and URL-encoded bodies up to the configured
// limit. Other content types pass through untouched.
func (a *API) bodyParserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := a.config.Server.BodyLimit
		switch {
		case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				writeBodyError(w, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			var body interface{}
			if len(bytes.TrimSpace(raw)) > 0 {
				if err := json.Unmarshal(raw, &body); err != nil {
					http.Error(w, "Bad Request: malformed JSON body", http.StatusBadRequest)
					return
				}
			}
			if body != nil {
				r = r.WithContext(WithBody(r.Context(), body))
			}

		case mediaType == "application/x-www-form-urlencoded":
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			if err := r.ParseForm(); err != nil {
				writeBodyError(w, err)
				return
			}
			r = r.WithContext(WithBody(r.Context(), r.PostForm))
		}

		next.ServeHTTP(w, r)
	})
}

func writeBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "Bad Request", http.StatusBadRequest)
}

// cookieParserMiddleware exposes request cookies as a name to value map.
// When a name repeats the first value wins.
func (a *API) cookieParserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies := make(map[string]string)
		for _, c := range r.Cookies() {
			if _, seen := cookies[c.Name]; !seen {
				cookies[c.Name] = c.Value
			}
		}
		next.ServeHTTP(w, r.WithContext(WithCookies(r.Context(), cookies)))
	})
}

// methodOverrideMiddleware lets a POST stand in for PUT, PATCH or DELETE.
// The header wins over the query string, which wins over the form body.
func (a *API) methodOverrideMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		override := r.Header.Get("X-HTTP-Method-Override")
		if override == "" {
			override = r.URL.Query().Get(methodOverrideField)
		}
		if override == "" && r.PostForm != nil {
			override = r.PostForm.Get(methodOverrideField)
		}

		override = strings.ToUpper(strings.TrimSpace(override))
		if !overridableMethods[override] {
			next.ServeHTTP(w, r)
			return
		}

		r = r.WithContext(WithOriginalMethod(r.Context(), r.Method))
		r.Method = override
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers and answers preflight requests
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(a.config.Server.AllowedOrigins))
	for _, origin := range a.config.Server.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")

		switch {
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				h.Add("Vary", "Access-Control-Request-Headers")
			}
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// newCompressionMiddleware gzips compressible responses for clients that accept it
func newCompressionMiddleware() (Middleware, error) {
	wrapper, err := gzhttp.NewWrapper(gzhttp.MinSize(compressionMinSize))
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return wrapper(next)
	}, nil
}

// devLoggerMiddleware logs one concise line per request once it completes:
// method, url, status, response time and body size.
func (a *API) devLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		size := "-"
		if cl := wrapped.Header().Get("Content-Length"); cl != "" {
			size = cl
		} else if wrapped.bytes > 0 {
			size = strconv.Itoa(wrapped.bytes)
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		a.logger.Infof("%s %s %d %.3f ms - %s", r.Method, r.URL.RequestURI(), wrapped.statusCode, elapsed, size)
	})
}

// metricsMiddleware records request counts and latency
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// localsMiddleware exposes the session user to views and logs the session ID
func (a *API) localsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locals := Locals{
			"user":     nil,
			"protocol": requestScheme(r, a.settings.TrustProxyHops),
		}

		sessionID := ""
		if sess, ok := session.FromContext(r.Context()); ok {
			sessionID = sess.ID()
			if user, ok := sess.Get(session.UserKey); ok && user != nil {
				locals["user"] = user
				if name := username(user); name != "" {
					a.logger.Infof("%s has logged in", util.SanitizeLogValue(name))
				}
			}
		}
		a.logger.Infof("Session ID: %s", sessionID)

		next.ServeHTTP(w, r.WithContext(WithLocals(r.Context(), locals)))
	})
}

// username extracts a display name from a stored user value
func username(user interface{}) string {
	switch u := user.(type) {
	case string:
		return u
	case map[string]interface{}:
		name, _ := u["username"].(string)
		return name
	default:
		return ""
	}
}

// responseWriterWrapper wraps http.ResponseWriter to capture the status code
// and body size.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

// WriteHeader captures the status code before writing it.
func (w *responseWriterWrapper) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write implements http.ResponseWriter.Write and ensures status code is captured.
func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseWriterWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (w *responseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
