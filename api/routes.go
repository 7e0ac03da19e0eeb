package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// indexPage is the body of GET /
const indexPage = "<h3>Web server powered by Go</h3>"

// RegisterRoutes sets up the application routes
func (a *API) RegisterRoutes() {
	a.router.HandleFunc("/", a.index).Methods(http.MethodGet, http.MethodHead)
	if a.config.Metrics.Enabled {
		a.router.Handle(a.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
}

// Router exposes the router so callers can add their own routes
func (a *API) Router() *mux.Router {
	return a.router
}

func (a *API) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexPage))
}
