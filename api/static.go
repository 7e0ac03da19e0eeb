package api

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Static serves files under dir of fsys. Only GET and HEAD are served; misses,
// dotfiles and directories without an index.html fall through to next.
func Static(fsys afero.Fs, dir string) Middleware {
	return func(next http.Handler) http.Handler {
		if dir == "" {
			return next
		}
		files := http.FileServer(afero.NewHttpFs(fsys).Dir(dir))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			clean := path.Clean("/" + r.URL.Path)
			if hasDotSegment(clean) {
				next.ServeHTTP(w, r)
				return
			}

			name := filepath.Join(dir, filepath.FromSlash(clean))
			info, err := fsys.Stat(name)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if info.IsDir() {
				if _, err := fsys.Stat(filepath.Join(name, "index.html")); err != nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			files.ServeHTTP(w, r)
		})
	}
}

// hasDotSegment reports whether any segment of a cleaned URL path is hidden
func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
