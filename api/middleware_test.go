package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"webserver/session"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// itemRoutes registers a DELETE/PUT-only resource that echoes what it saw
func itemRoutes(a *API) {
	a.Router().HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s (was %s)", r.Method, mux.Vars(r)["id"], GetOriginalMethod(r))
	}).Methods(http.MethodDelete, http.MethodPut)
}

func TestMethodOverride(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), itemRoutes)

	tests := []struct {
		name     string
		req      func() *http.Request
		wantCode int
		wantBody string
	}{
		{
			name: "form field",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/items/7", strings.NewReader("_method=DELETE"))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			wantCode: http.StatusOK,
			wantBody: "DELETE 7 (was POST)",
		},
		{
			name: "query field",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/items/7?_method=put", nil)
			},
			wantCode: http.StatusOK,
			wantBody: "PUT 7 (was POST)",
		},
		{
			name: "header",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/items/7", nil)
				r.Header.Set("X-HTTP-Method-Override", "DELETE")
				return r
			},
			wantCode: http.StatusOK,
			wantBody: "DELETE 7 (was POST)",
		},
		{
			name: "plain POST is not routed",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/items/7", nil)
			},
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name: "only POST can be overridden",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/items/7?_method=DELETE", nil)
			},
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name: "unsupported target method",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/items/7?_method=CONNECT", nil)
			},
			wantCode: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.do(tt.req())
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestMethodOverride_DevLogShowsEffectiveMethod(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), itemRoutes)

	ta.do(httptest.NewRequest(http.MethodPost, "/items/7?_method=DELETE", nil))

	lines := ta.logs.FilterMessageSnippet(" ms - ").All()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0].Message, "DELETE /items/7?_method=DELETE 200 "))
}

func echoBodyRoute(a *API) {
	a.Router().HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, ok := GetBody(r.Context())
		if !ok {
			fmt.Fprint(w, "no body")
			return
		}
		fmt.Fprintf(w, "%v", body)
	}).Methods(http.MethodPost)
}

func TestBodyParser(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), echoBodyRoute)

	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
		wantBody    string
	}{
		{"json object", "application/json", `{"name":"ada"}`, http.StatusOK, "map[name:ada]"},
		{"json with charset", "application/json; charset=utf-8", `[1,2]`, http.StatusOK, "[1 2]"},
		{"vendor json", "application/vnd.api+json", `{"a":true}`, http.StatusOK, "map[a:true]"},
		{"malformed json", "application/json", `{"name":`, http.StatusBadRequest, ""},
		{"form", "application/x-www-form-urlencoded", "name=ada&tag=a&tag=b", http.StatusOK, "map[name:[ada] tag:[a b]]"},
		{"oversized json", "application/json", `{"pad":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge, ""},
		{"oversized form", "application/x-www-form-urlencoded", "pad=" + strings.Repeat("x", 2048), http.StatusRequestEntityTooLarge, ""},
		{"other content type", "text/plain", "hello", http.StatusOK, "no body"},
		{"empty json", "application/json", "", http.StatusOK, "no body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := ta.do(req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestBodyParser_BodyRemainsReadable(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), func(a *API) {
		a.Router().HandleFunc("/raw", func(w http.ResponseWriter, r *http.Request) {
			raw := make([]byte, 64)
			n, _ := r.Body.Read(raw)
			fmt.Fprint(w, string(raw[:n]))
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ta.do(req)

	assert.Equal(t, `{"a":1}`, rec.Body.String())
}

func TestCookieParser(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), func(a *API) {
		a.Router().HandleFunc("/cookies", func(w http.ResponseWriter, r *http.Request) {
			cookies, ok := GetCookies(r.Context())
			require.True(t, ok)
			fmt.Fprintf(w, "%v", cookies)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/cookies", nil)
	req.Header.Set("Cookie", "theme=dark; lang=en; theme=light")
	rec := ta.do(req)

	assert.Equal(t, "map[lang:en theme:dark]", rec.Body.String())
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		ta := newTestAPI(t, newTestConfig(), nil)

		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://other.example")
		req.Header.Set("Access-Control-Request-Method", "PUT")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Token")
		rec := ta.do(req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET,HEAD,PUT,PATCH,POST,DELETE", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, X-Token", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "0", rec.Header().Get("Content-Length"))
	})

	t.Run("allow list", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Server.AllowedOrigins = []string{"https://app.example"}
		ta := newTestAPI(t, cfg, nil)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example")
		rec := ta.do(req)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Values("Vary"), "Origin")

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec = ta.do(req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestStatic(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), nil)
	require.NoError(t, afero.WriteFile(ta.fs, "public/css/site.css", []byte("body{}"), 0o644))
	require.NoError(t, ta.fs.MkdirAll("public/empty", 0o755))
	require.NoError(t, afero.WriteFile(ta.fs, "public/docs/index.html", []byte("<p>docs</p>"), 0o644))

	rec := ta.do(httptest.NewRequest(http.MethodGet, "/css/site.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), "static files get security headers")

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/docs/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>docs</p>", rec.Body.String())

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/empty/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "directories without an index fall through")

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/../public/css/site.css", nil))
	assert.NotEqual(t, "body{}", rec.Body.String(), "paths cannot climb out of the static directory")

	rec = ta.do(httptest.NewRequest(http.MethodPost, "/css/site.css", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "only GET and HEAD are served")
}

func TestStatic_IgnoresDotfiles(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), nil)
	require.NoError(t, afero.WriteFile(ta.fs, "public/.env", []byte("SECRET_KEY_ONE=hunter2"), 0o644))
	require.NoError(t, afero.WriteFile(ta.fs, "public/.git/config", []byte("[core]"), 0o644))
	require.NoError(t, afero.WriteFile(ta.fs, "public/.well-known/index.html", []byte("hidden"), 0o644))
	require.NoError(t, afero.WriteFile(ta.fs, "public/css/.site.css.swp", []byte("swap"), 0o644))
	require.NoError(t, afero.WriteFile(ta.fs, "public/css/site.css", []byte("body{}"), 0o644))

	for _, target := range []string{"/.env", "/.git/config", "/.well-known/", "/css/.site.css.swp"} {
		t.Run(target, func(t *testing.T) {
			rec := ta.do(httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.NotContains(t, rec.Body.String(), "hunter2")
		})
	}

	rec := ta.do(httptest.NewRequest(http.MethodGet, "/css/../.env", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/css/site.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatic_ShadowsRoutes(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), nil)
	require.NoError(t, afero.WriteFile(ta.fs, "public/index.html", []byte("<h1>static home</h1>"), 0o644))

	rec := ta.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "<h1>static home</h1>", rec.Body.String())
}

func TestLocals(t *testing.T) {
	var seen Locals
	ta := newTestAPI(t, newTestConfig(), func(a *API) {
		a.Router().HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
			s, _ := session.FromContext(r.Context())
			s.Set(session.UserKey, map[string]interface{}{"username": "ada"})
		}).Methods(http.MethodPost)
		a.Router().HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
			seen = GetLocals(r.Context())
		}).Methods(http.MethodGet)
	})

	ta.do(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NotNil(t, seen)
	assert.Nil(t, seen["user"])
	assert.Equal(t, "http", seen["protocol"])
	assert.Equal(t, 1, ta.logs.FilterMessageSnippet("Session ID: ").Len())
	assert.Zero(t, ta.logs.FilterMessageSnippet("has logged in").Len())

	login := ta.do(httptest.NewRequest(http.MethodPost, "/login", nil))
	cookies := login.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookies[0])
	req.Header.Set("X-Forwarded-Proto", "https")
	ta.do(req)

	assert.Equal(t, map[string]interface{}{"username": "ada"}, seen["user"])
	assert.Equal(t, "https", seen["protocol"])
	assert.Equal(t, 1, ta.logs.FilterMessage("ada has logged in").Len())

	ids := ta.logs.FilterMessageSnippet("Session ID: ").All()
	require.Len(t, ids, 3)
	for _, entry := range ids {
		assert.Greater(t, len(entry.Message), len("Session ID: "), "every request logs a session ID")
	}
	assert.Equal(t, ids[1].Message, ids[2].Message, "the login session is reused")
}

func TestLocals_UsernameCannotForgeLogLines(t *testing.T) {
	ta := newTestAPI(t, newTestConfig(), func(a *API) {
		a.Router().HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
			s, _ := session.FromContext(r.Context())
			s.Set(session.UserKey, "mallory\nSession ID: forged")
		}).Methods(http.MethodPost)
	})

	login := ta.do(httptest.NewRequest(http.MethodPost, "/login", nil))
	cookies := login.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	ta.do(req)

	assert.Equal(t, 1, ta.logs.FilterMessage("mallory_Session ID: forged has logged in").Len())
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    []string
		hops   int
		want   string
	}{
		{"no proxy trust", "10.0.0.1:5000", []string{"203.0.113.9"}, 0, "10.0.0.1"},
		{"one hop", "10.0.0.1:5000", []string{"203.0.113.9"}, 1, "203.0.113.9"},
		{"one hop ignores spoofed prefix", "10.0.0.1:5000", []string{"1.1.1.1, 203.0.113.9"}, 1, "203.0.113.9"},
		{"two hops", "10.0.0.1:5000", []string{"203.0.113.9, 10.0.0.2"}, 2, "203.0.113.9"},
		{"multiple headers", "10.0.0.1:5000", []string{"203.0.113.9", "10.0.0.2"}, 2, "203.0.113.9"},
		{"more hops than entries", "10.0.0.1:5000", []string{"203.0.113.9"}, 5, "203.0.113.9"},
		{"no header", "10.0.0.1:5000", nil, 1, "10.0.0.1"},
		{"garbage entry", "10.0.0.1:5000", []string{"not-an-ip"}, 1, "10.0.0.1"},
		{"ipv6 remote", "[::1]:5000", nil, 1, "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, getRealIP(r, tt.hops))
		})
	}
}

func TestRequestScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-Proto", "https, http")

	assert.Equal(t, "https", requestScheme(r, 1))
	assert.Equal(t, "http", requestScheme(r, 0), "forwarded proto is ignored without proxy trust")
}

func TestGetFormBody(t *testing.T) {
	ctx := WithBody(httptest.NewRequest(http.MethodGet, "/", nil).Context(), url.Values{"a": {"1"}})
	form, ok := GetFormBody(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", form.Get("a"))
}
