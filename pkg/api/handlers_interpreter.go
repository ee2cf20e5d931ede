package api

import (
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
)

type contextCreateRequest struct {
	Language string            `json:"language,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
	EnvVars  map[string]string `json:"envVars,omitempty"`
}

func (s *Server) handleContextCreate(w http.ResponseWriter, r *http.Request) {
	var req contextCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	info, err := s.interp.CreateContext(r.Context(), req.Language, req.Cwd, req.EnvVars)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contextId": info.ID,
		"language":  info.Language,
		"cwd":       info.Cwd,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleContextList(w http.ResponseWriter, r *http.Request) {
	contexts := s.interp.ListContexts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contexts":  contexts,
		"count":     len(contexts),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleContextDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.interp.DeleteContext(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().UTC(),
	})
}

type executeCodeRequest struct {
	Code      string `json:"code"`
	Language  string `json:"language,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	// Snake-case alias accepted for SDK compatibility.
	ContextIDAlt string `json:"context_id,omitempty"`
}

func (s *Server) handleExecuteCode(w http.ResponseWriter, r *http.Request) {
	var req executeCodeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	contextID := req.ContextID
	if contextID == "" {
		contextID = req.ContextIDAlt
	}

	stream, err := s.interp.ExecuteCode(r.Context(), req.Code, req.Language, contextID)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.ExecutionsTotal.WithLabelValues(s.languageLabel(req.Language)).Inc()

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	for {
		select {
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := sse.Send(msg); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) languageLabel(language string) string {
	if language == "" {
		return s.cfg.Interpreter.DefaultLanguage
	}
	return language
}
