package api

import (
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/session"
	"github.com/cuemby/burrow/pkg/types"
)

type fileRequest struct {
	Path          string             `json:"path"`
	Content       string             `json:"content,omitempty"`
	Encoding      types.FileEncoding `json:"encoding,omitempty"`
	Recursive     bool               `json:"recursive,omitempty"`
	IncludeHidden bool               `json:"includeHidden,omitempty"`
	OldPath       string             `json:"oldPath,omitempty"`
	NewPath       string             `json:"newPath,omitempty"`
	SourcePath    string             `json:"sourcePath,omitempty"`
	DestPath      string             `json:"destinationPath,omitempty"`
	SessionID     string             `json:"sessionId,omitempty"`
}

// fileSession resolves the session a file op runs in.
func (s *Server) fileSession(w http.ResponseWriter, r *http.Request, req *fileRequest) (*session.Session, bool) {
	if err := decode(r, req); err != nil {
		writeError(w, err)
		return nil, false
	}
	sess, err := s.sessions.Resolve(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	res, err := sess.Mkdir(r.Context(), req.Path, req.Recursive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	res, err := sess.WriteFile(r.Context(), req.Path, req.Content, req.Encoding)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	res, err := sess.ReadFile(r.Context(), req.Path, req.Encoding)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReadStream(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	events, err := sess.ReadFileStream(r.Context(), req.Path)
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

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	res, err := sess.DeleteFile(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	res, err := sess.RenameFile(r.Context(), req.OldPath, req.NewPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	res, err := sess.MoveFile(r.Context(), req.SourcePath, req.DestPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	sess, ok := s.fileSession(w, r, &req)
	if !ok {
		return
	}
	files, err := sess.ListFiles(r.Context(), req.Path, session.ListOptions{
		Recursive:     req.Recursive,
		IncludeHidden: req.IncludeHidden,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"path":      req.Path,
		"files":     files,
		"count":     len(files),
		"timestamp": time.Now().UTC(),
	})
}
