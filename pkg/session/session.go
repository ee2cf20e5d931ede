package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/process"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

// Session is a named, long-lived execution context backed by one control
// child hosting an interactive shell. Commands within a session share
// working directory and environment state across calls.
type Session struct {
	id        string
	cwd       string
	env       map[string]string
	isolated  bool
	createdAt time.Time

	transport *Transport
	super     *process.Supervisor
	logger    zerolog.Logger
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Processes returns the session's background process supervisor.
func (s *Session) Processes() *process.Supervisor { return s.super }

// Info returns the externally visible view of the session.
func (s *Session) Info() types.SessionInfo {
	return types.SessionInfo{
		ID:        s.id,
		Cwd:       s.cwd,
		Isolated:  s.isolated,
		Ready:     s.transport.Ready(),
		CreatedAt: s.createdAt,
	}
}

// Exec runs a command in the session shell and waits for its result. An
// empty cwd runs in the session's current working directory; a non-empty
// cwd must be absolute and runs the command in a subshell there without
// disturbing session state.
func (s *Session) Exec(ctx context.Context, command, cwd string) (*types.ExecResult, error) {
	if err := s.checkExec(cwd); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.transport.Roundtrip(ctx, &shim.Request{
		Op:      "exec",
		ID:      uuid.New().String(),
		Command: command,
		Cwd:     cwd,
	})
	if err != nil {
		return nil, err
	}
	if resp.Op == "error" {
		if strings.Contains(resp.Error, "timed out") {
			return nil, errdefs.New(errdefs.CodeTimeout, resp.Error)
		}
		return nil, errdefs.New(errdefs.CodeUnknown, resp.Error)
	}

	exitCode := 0
	if resp.ExitCode != nil {
		exitCode = *resp.ExitCode
	}
	return &types.ExecResult{
		Success:    exitCode == 0,
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		ExitCode:   exitCode,
		Command:    command,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now(),
	}, nil
}

// ExecStream runs a command and returns its lazy event sequence: one
// start, data chunks in the child's emission order, then exactly one
// complete or error. Cancelling the context detaches the consumer; the
// command keeps running in the shell.
func (s *Session) ExecStream(ctx context.Context, command, cwd string) (<-chan types.ExecEvent, error) {
	if err := s.checkExec(cwd); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	events, err := s.transport.OpenStream(&shim.Request{
		Op:      "exec_stream",
		ID:      id,
		Command: command,
		Cwd:     cwd,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan types.ExecEvent, 16)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					s.transport.Cancel(id)
					return
				}
			case <-ctx.Done():
				s.transport.Cancel(id)
				return
			}
		}
	}()
	return out, nil
}

func (s *Session) checkExec(cwd string) error {
	if !s.transport.Ready() {
		return errdefs.New(errdefs.CodeNotInitialized, "session not initialized")
	}
	if cwd != "" && !filepath.IsAbs(cwd) {
		return errdefs.Newf(errdefs.CodeValidationFailed, "cwd must be absolute, got %q", cwd)
	}
	return nil
}

// applyEnv exports the session's configured environment overrides into
// the interactive shell so every later command inherits them.
func (s *Session) applyEnv(ctx context.Context) error {
	if len(s.env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.env))
	for k := range s.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shim.Quote(s.env[k]))
	}
	res, err := s.Exec(ctx, b.String(), "")
	if err != nil {
		return err
	}
	if !res.Success {
		return errdefs.Newf(errdefs.CodeUnknown, "apply session env: %s", res.Stderr)
	}
	return nil
}

// Close kills the session's background processes and its control child.
// Temp files the control child created are reclaimed by its janitor or,
// once the child is gone, by a peer session's janitor sweeping the shared
// temp dir.
func (s *Session) Close() error {
	if s.super != nil {
		_, _ = s.super.KillAll(context.Background())
	}
	err := s.transport.Close()
	s.logger.Info().Msg("session destroyed")
	return err
}

var _ process.Shell = (*Session)(nil)

// newLogger keeps construction in one place for the registry.
func newSessionLogger(id string) zerolog.Logger {
	return log.WithSessionID(id)
}
