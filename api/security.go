package api

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"

	"webserver/metrics"
)

// contentSecurityPolicy is the default document policy
const contentSecurityPolicy = "default-src 'self';" +
	"base-uri 'self';" +
	"font-src 'self' https: data:;" +
	"form-action 'self';" +
	"frame-ancestors 'self';" +
	"img-src 'self' data:;" +
	"object-src 'none';" +
	"script-src 'self';" +
	"script-src-attr 'none';" +
	"style-src 'self' https: 'unsafe-inline';" +
	"upgrade-insecure-requests"

// securityHeaders are set on every response before anything else runs
var securityHeaders = [][2]string{
	{"Content-Security-Policy", contentSecurityPolicy},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=15552000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

// securityHeadersMiddleware adds the standard hardening headers
func (a *API) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// errorRecoveryMiddleware turns handler panics into a logged 500
func (a *API) errorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				stackBuf := make([]byte, 4096)
				stackLen := runtime.Stack(stackBuf, false)
				clientIP, _ := GetClientIP(r.Context())

				// Stack trace is logged server-side only, never sent to client
				a.logger.Errorw("PANIC RECOVERED",
					"error", fmt.Sprintf("%v", err),
					"method", r.Method,
					"path", r.URL.Path,
					"client_ip", clientIP,
					"stack_trace", string(stackBuf[:stackLen]),
				)
				metrics.PanicsRecovered.WithLabelValues(r.Method).Inc()

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// clientIPMiddleware resolves the client address once per request
func (a *API) clientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getRealIP(r, a.settings.TrustProxyHops)
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
	})
}

// getRealIP walks X-Forwarded-For from the right, trusting at most hops
// proxies. With zero hops the forwarding headers are ignored.
func getRealIP(r *http.Request, hops int) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if hops <= 0 {
		return directIP
	}

	xff := r.Header.Values("X-Forwarded-For")
	if len(xff) == 0 {
		return directIP
	}

	var chain []string
	for _, header := range xff {
		for _, ip := range strings.Split(header, ",") {
			ip = strings.TrimSpace(ip)
			if ip != "" {
				chain = append(chain, ip)
			}
		}
	}

	// addresses = client, proxy1, ..., proxyN, direct
	addresses := append(chain, directIP)
	idx := len(addresses) - 1 - hops
	if idx < 0 {
		idx = 0
	}
	candidate := addresses[idx]
	if net.ParseIP(candidate) == nil {
		return directIP
	}
	return candidate
}

// requestScheme reports https when the connection or a trusted proxy says so
func requestScheme(r *http.Request, hops int) string {
	if r.TLS != nil {
		return "https"
	}
	if hops > 0 {
		proto := r.Header.Get("X-Forwarded-Proto")
		if i := strings.IndexByte(proto, ','); i >= 0 {
			proto = proto[:i]
		}
		if strings.EqualFold(strings.TrimSpace(proto), "https") {
			return "https"
		}
	}
	return "http"
}
