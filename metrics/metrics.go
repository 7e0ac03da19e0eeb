package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webserver_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webserver_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// DatabaseState mirrors storage.ConnState (0 disconnected, 1 connecting, 2 connected, 3 error)
	DatabaseState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webserver_database_connection_state",
			Help: "Current document database connection state",
		},
	)

	SessionsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webserver_sessions_saved_total",
			Help: "Total number of sessions written to the session store",
		},
		[]string{"store"},
	)

	SessionStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webserver_session_store_errors_total",
			Help: "Total number of session store failures",
		},
		[]string{"store", "operation"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webserver_panics_recovered_total",
			Help: "Total number of handler panics recovered",
		},
		[]string{"method"},
	)
)
