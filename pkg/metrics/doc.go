/*
Package metrics provides Prometheus metrics collection and exposition for
Burrow, plus the daemon health checker behind /api/health.

All metrics are registered on the Prometheus DefaultRegistry at package
init and exposed via promhttp on /metrics.

# Architecture

	┌──────────────────── METRICS SYSTEM ─────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐         │
	│  │          Prometheus Registry               │         │
	│  │  - Global DefaultRegistry                  │         │
	│  │  - MustRegister at package init            │         │
	│  │  - Automatic Go runtime metrics            │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │              Collector                     │         │
	│  │  Polls registries every 15s:               │         │
	│  │  - sessions → burrow_sessions_total        │         │
	│  │  - processes → burrow_processes_total      │         │
	│  │  - ports → burrow_exposed_ports_total      │         │
	│  │  - contexts → burrow_contexts_total        │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │          HTTP Metrics Endpoint             │         │
	│  │  - Path: /metrics                          │         │
	│  │  - Format: Prometheus text exposition      │         │
	│  │  - Handler: promhttp.Handler()             │         │
	│  └────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────┘

# Metrics Catalog

burrow_sessions_total:
  - Type: Gauge
  - Description: Live sessions

burrow_processes_total{status}:
  - Type: Gauge
  - Description: Background processes by status (starting/running/
    completed/failed/killed/error)

burrow_processes_started_total:
  - Type: Counter
  - Description: Background processes ever started

burrow_exposed_ports_total:
  - Type: Gauge
  - Description: Currently exposed ports

burrow_proxy_requests_total{outcome}:
  - Type: Counter
  - Description: Proxied requests by outcome (ok/unexposed/unreachable)

burrow_contexts_total{language}:
  - Type: Gauge
  - Description: Live interpreter contexts by language

burrow_executions_total{language}:
  - Type: Counter
  - Description: Code executions by language

burrow_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by method and status

burrow_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds

# Usage

	import "github.com/cuemby/burrow/pkg/metrics"

	metrics.SessionsTotal.Set(3)
	metrics.ProcessesStarted.Inc()

	timer := metrics.NewTimer()
	// ... handle request ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "POST")

	http.Handle("/metrics", metrics.Handler())

# Health Checking

Components register and update their health with RegisterComponent and
UpdateComponent; GetHealth aggregates them into an overall status served
by HealthHandler. Any unhealthy component makes the daemon report
unhealthy with a 503.

Label discipline: labels stay low-cardinality (status, language, HTTP
method). Session and process ids never become labels.
*/
package metrics
