package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/burrow/pkg/metrics"
)

// statusRecorder captures the response status for logging and metrics.
// WriteHeader may never be called on streaming endpoints, so the zero
// value reads as 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// cors answers preflight requests and marks every response as
// cross-origin accessible. The daemon serves loopback clients inside
// the container, including browser-based tooling.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// countProxy classifies proxied requests by their response status so the
// proxy counter distinguishes forwarded traffic from misses and dead
// upstreams.
func (s *Server) countProxy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ProxyRequestsTotal.WithLabelValues(proxyOutcome(rec.status)).Inc()
	})
}

func proxyOutcome(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_exposed"
	case status == http.StatusBadGateway:
		return "upstream_error"
	case status >= 500:
		return "error"
	default:
		return "forwarded"
	}
}

// instrument wraps the mux with request logging and Prometheus counters.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("request")
	})
}
