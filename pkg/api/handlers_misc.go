package api

import (
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/version"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        version.Version,
		"sandboxVersion": version.Sandbox(),
		"commit":         version.Commit,
		"buildTime":      version.BuildTime,
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "pong",
		"timestamp": time.Now().UTC(),
	})
}

// handleCommands enumerates the API surface, for interactive discovery.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commands": []string{
			"POST /api/session/create",
			"GET /api/session/list",
			"POST /api/execute",
			"POST /api/execute/stream",
			"POST /api/execute/code",
			"POST /api/git/checkout",
			"POST /api/mkdir",
			"POST /api/write",
			"POST /api/read",
			"POST /api/read/stream",
			"POST /api/delete",
			"POST /api/rename",
			"POST /api/move",
			"POST /api/list-files",
			"POST /api/expose-port",
			"POST /api/unexpose-port",
			"DELETE /api/unexpose-port",
			"GET /api/exposed-ports",
			"DELETE /api/exposed-ports/{port}",
			"POST /api/process/start",
			"GET /api/process/list",
			"GET /api/process/{id}",
			"DELETE /api/process/{id}",
			"GET /api/process/{id}/logs",
			"GET /api/process/{id}/stream",
			"DELETE /api/process/kill-all",
			"POST /api/contexts",
			"GET /api/contexts",
			"DELETE /api/contexts/{id}",
			"GET /api/health",
			"GET /api/version",
			"GET /api/ping",
			"GET /api/commands",
			"POST /api/shutdown",
			"GET /metrics",
			"ANY /proxy/{port}/...",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "shutting down",
		"timestamp": time.Now().UTC(),
	})
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}
