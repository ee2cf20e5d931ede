package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
)

type portRequest struct {
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

func (s *Server) handleExposePort(w http.ResponseWriter, r *http.Request) {
	var req portRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	exposed, err := s.ports.Expose(req.Port, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"port":      exposed,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleUnexposePort(w http.ResponseWriter, r *http.Request) {
	var req portRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.unexpose(w, req.Port)
}

func (s *Server) handleUnexposePortPath(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, errdefs.Newf(errdefs.CodeInvalidPort, "invalid port %q", r.PathValue("port")))
		return
	}
	s.unexpose(w, port)
}

func (s *Server) unexpose(w http.ResponseWriter, port int) {
	if err := s.ports.Unexpose(port); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"port":      port,
		"message":   "port unexposed",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleListPorts(w http.ResponseWriter, r *http.Request) {
	list := s.ports.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ports":     list,
		"count":     len(list),
		"timestamp": time.Now().UTC(),
	})
}
