package api

import (
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/process"
	"github.com/cuemby/burrow/pkg/types"
)

type processStartRequest struct {
	Command   string              `json:"command"`
	SessionID string              `json:"sessionId,omitempty"`
	Options   processStartOptions `json:"options,omitempty"`
}

type processStartOptions struct {
	ProcessID     string            `json:"processId,omitempty"`
	Cwd           string            `json:"cwd,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	TimeoutMs     int               `json:"timeout,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	NoAutoCleanup bool              `json:"noAutoCleanup,omitempty"`
}

func (s *Server) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	var req processStartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.Options.SessionID
	}
	sess, err := s.sessions.Resolve(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	proc, err := sess.Processes().Start(r.Context(), req.Command, process.StartOptions{
		ProcessID:     req.Options.ProcessID,
		Cwd:           req.Options.Cwd,
		Env:           req.Options.Env,
		Timeout:       time.Duration(req.Options.TimeoutMs) * time.Millisecond,
		NoAutoCleanup: req.Options.NoAutoCleanup,
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
}

func (s *Server) handleProcessList(w http.ResponseWriter, r *http.Request) {
	sessionFilter := r.URL.Query().Get("session")

	var procs []types.ProcessInfo
	if sessionFilter != "" {
		sess, err := s.sessions.Get(sessionFilter)
		if err != nil {
			writeError(w, err)
			return
		}
		procs = sess.Processes().List()
	} else {
		procs = make([]types.ProcessInfo, 0)
		for _, info := range s.sessions.List() {
			sess, err := s.sessions.Get(info.ID)
			if err != nil {
				continue
			}
			procs = append(procs, sess.Processes().List()...)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processes": procs,
		"count":     len(procs),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProcessGet(w http.ResponseWriter, r *http.Request) {
	proc, _, err := s.sessions.FindProcess(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"process":   proc,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProcessKill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, sess, err := s.sessions.FindProcess(id)
	if err != nil {
		writeError(w, err)
		return
	}

	proc, err := sess.Processes().Kill(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"process":   proc,
		"message":   "process killed",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProcessLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, sess, err := s.sessions.FindProcess(id)
	if err != nil {
		writeError(w, err)
		return
	}

	stdout, stderr, err := sess.Processes().Logs(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processId": id,
		"sessionId": sess.ID(),
		"stdout":    stdout,
		"stderr":    stderr,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, sess, err := s.sessions.FindProcess(id)
	if err != nil {
		writeError(w, err)
		return
	}

	events, cancel, err := sess.Processes().Stream(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Send(ev); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleProcessKillAll(w http.ResponseWriter, r *http.Request) {
	sessionFilter := r.URL.Query().Get("session")

	killed := 0
	if sessionFilter != "" {
		sess, err := s.sessions.Get(sessionFilter)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err := sess.Processes().KillAll(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		killed = n
	} else {
		for _, info := range s.sessions.List() {
			sess, err := s.sessions.Get(info.ID)
			if err != nil {
				continue
			}
			n, _ := sess.Processes().KillAll(r.Context())
			killed += n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"killedCount": killed,
		"message":     "processes killed",
		"timestamp":   time.Now().UTC(),
	})
}
