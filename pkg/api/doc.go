/*
Package api implements the HTTP surface of the Burrow daemon.

All endpoints live under /api with JSON bodies and responses, except the
/proxy prefix (forwarded to exposed ports) and /metrics (Prometheus text
exposition). Streaming endpoints (/api/execute/stream,
/api/process/{id}/stream, /api/read/stream, /api/execute/code) respond
with text/event-stream: one JSON object per data: line, flushed per
event.

# Architecture

	┌────────────────────── API SERVER ─────────────────────┐
	│                                                       │
	│  instrument (metrics + request log)                   │
	│      │                                                │
	│  ServeMux (method + path patterns)                    │
	│      ├── /api/session/*, /api/execute*  → sessions    │
	│      ├── /api/mkdir … /api/list-files   → file facade │
	│      ├── /api/process/*                 → supervisor  │
	│      ├── /api/expose-port, /proxy/      → ports       │
	│      ├── /api/contexts, /execute/code   → interpreter │
	│      └── /api/health, /metrics, …       → operational │
	└───────────────────────────────────────────────────────┘

# Error Contract

Every failure is rendered as one envelope:

	{code, message, context?, httpStatus, timestamp}

where code is a stable string (see pkg/errdefs) and httpStatus repeats
the response status. 503 responses (interpreter warming, circuit open)
carry a Retry-After header derived from the error context.

Handlers hold no state of their own; they decode, delegate to the owning
registry or service, and shape the response. Request bodies with only
optional fields may be empty.
*/
package api
