package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_sessions_total",
			Help: "Total number of live sessions",
		},
	)

	// Process metrics
	ProcessesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_processes_total",
			Help: "Total number of background processes by status",
		},
		[]string{"status"},
	)

	ProcessesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_processes_started_total",
			Help: "Total number of background processes ever started",
		},
	)

	// Port metrics
	ExposedPortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_exposed_ports_total",
			Help: "Total number of exposed ports",
		},
	)

	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_proxy_requests_total",
			Help: "Total number of proxied requests by outcome",
		},
		[]string{"outcome"},
	)

	// Interpreter metrics
	ContextsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_contexts_total",
			Help: "Total number of interpreter contexts by language",
		},
		[]string{"language"},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_executions_total",
			Help: "Total number of code executions by language",
		},
		[]string{"language"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(ProcessesTotal)
	prometheus.MustRegister(ProcessesStarted)
	prometheus.MustRegister(ExposedPortsTotal)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ContextsTotal)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
