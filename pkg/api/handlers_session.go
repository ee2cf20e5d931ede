package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/process"
	"github.com/cuemby/burrow/pkg/session"
	"github.com/cuemby/burrow/pkg/shim"
)

type sessionCreateRequest struct {
	ID        string            `json:"id"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Isolation bool              `json:"isolation,omitempty"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.sessions.Create(r.Context(), session.CreateOptions{
		ID:        req.ID,
		Cwd:       req.Cwd,
		Env:       req.Env,
		Isolation: req.Isolation,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      sess.ID(),
		"message": "session created",
	})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	infos := s.sessions.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(infos),
		"sessions":  infos,
		"timestamp": time.Now().UTC(),
	})
}

type executeRequest struct {
	Command    string            `json:"command"`
	SessionID  string            `json:"sessionId,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Background bool              `json:"background,omitempty"`
	TimeoutMs  int               `json:"timeout,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, errdefs.New(errdefs.CodeInvalidCommand, "command must not be empty"))
		return
	}

	sess, err := s.sessions.Resolve(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Background {
		proc, err := sess.Processes().Start(r.Context(), req.Command, process.StartOptions{
			Cwd:     req.Cwd,
			Env:     req.Env,
			Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		metrics.ProcessesStarted.Inc()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"process":   proc,
			"timestamp": time.Now().UTC(),
		})
		return
	}

	res, err := sess.Exec(r.Context(), wrapEnv(req.Env, req.Command), req.Cwd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, errdefs.New(errdefs.CodeInvalidCommand, "command must not be empty"))
		return
	}

	sess, err := s.sessions.Resolve(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := sess.ExecStream(r.Context(), wrapEnv(req.Env, req.Command), req.Cwd)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	for ev := range events {
		if err := sse.Send(ev); err != nil {
			return
		}
	}
}

type gitCheckoutRequest struct {
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	TargetDir string `json:"targetDir,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) handleGitCheckout(w http.ResponseWriter, r *http.Request) {
	var req gitCheckoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.sessions.Resolve(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := sess.GitCheckout(r.Context(), req.RepoURL, req.Branch, req.TargetDir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decode parses a JSON request body, tolerating an empty body for
// requests whose fields are all optional.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && err.Error() != "EOF" {
		return errdefs.Wrap(err, errdefs.CodeValidationFailed, "malformed request body")
	}
	return nil
}

// wrapEnv prefixes a command with per-call environment exports inside a
// subshell, so they do not leak into the session.
func wrapEnv(env map[string]string, command string) string {
	if len(env) == 0 {
		return command
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("( ")
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shim.Quote(env[k]))
	}
	b.WriteString(command)
	b.WriteString(" )")
	return b.String()
}
