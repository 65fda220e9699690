package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RequestLogger logs the completion of each request with structured fields.
// The level follows the status class: Info for success, Warn for 4xx, Error for 5xx.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// RequestID is set by Chi's RequestID middleware, which must run first.
		reqID := middleware.GetReqID(r.Context())

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		status := ww.Status()

		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start).String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// HTTPMetrics records per-request latency and counts into the given
// collectors. Each service passes its own vectors so the model API and the
// mapper stay separate subsystems while sharing one implementation.
//
// The route label is the Chi route PATTERN (e.g. "/api/v1/detectors/{uuid}"),
// never the raw URL path, and requests that match no route collapse into the
// single label value "not_found". Label cardinality stays bounded no matter
// what clients put on the wire.
func HTTPMetrics(duration *prometheus.HistogramVec, total *prometheus.CounterVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The pattern is only known after routing has run.
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "not_found"
			}

			duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			total.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		})
	}
}
