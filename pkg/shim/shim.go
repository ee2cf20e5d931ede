package shim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// EnvFlag marks a process as a shim re-exec. The daemon spawns itself with
// this variable set; main dispatches to Run before cobra ever parses argv.
const EnvFlag = "BURROW_SHIM"

// Request is a parent-to-child message on the control wire.
type Request struct {
	Op      string `json:"op"` // exec | exec_stream | exit
	ID      string `json:"id"`
	Command string `json:"command,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
}

// Response is a child-to-parent message on the control wire.
type Response struct {
	Op       string           `json:"op"` // ready | result | error | stream_event
	ID       string           `json:"id,omitempty"`
	Stdout   string           `json:"stdout,omitempty"`
	Stderr   string           `json:"stderr,omitempty"`
	ExitCode *int             `json:"exitCode,omitempty"`
	Error    string           `json:"error,omitempty"`
	Event    *types.ExecEvent `json:"event,omitempty"`
}

// Shim is the control child: it owns one interactive shell and mediates
// line-delimited JSON IPC with the daemon over stdin/stdout. Command
// results travel through per-correlation transport files rather than
// stdout markers so binary output and embedded sentinels cannot corrupt
// the protocol.
type Shim struct {
	sessionID string
	cwd       string
	isolated  bool

	commandTimeout  time.Duration
	cleanupInterval time.Duration
	tempFileMaxAge  time.Duration
	tempDir         string

	shell      *exec.Cmd
	shellStdin io.WriteCloser
	shellMu    sync.Mutex

	out   *json.Encoder
	outMu sync.Mutex

	logger zerolog.Logger
	done   chan struct{}
}

// New builds a Shim from the environment contract the daemon sets on the
// re-exec: SESSION_ID, SESSION_CWD, SESSION_ISOLATED plus the shared
// timeout and temp-file knobs.
func New() *Shim {
	return &Shim{
		sessionID:       os.Getenv("SESSION_ID"),
		cwd:             envOr("SESSION_CWD", "/workspace"),
		isolated:        os.Getenv("SESSION_ISOLATED") == "1",
		commandTimeout:  envMs("COMMAND_TIMEOUT_MS", 30*time.Second),
		cleanupInterval: envMs("CLEANUP_INTERVAL_MS", 60*time.Second),
		tempFileMaxAge:  envMs("TEMP_FILE_MAX_AGE_MS", time.Hour),
		tempDir:         envOr("TEMP_DIR", "/tmp"),
		out:             json.NewEncoder(os.Stdout),
		logger:          log.WithComponent("shim"),
		done:            make(chan struct{}),
	}
}

// Run starts the shell, signals readiness, and serves requests until the
// parent sends exit or closes stdin. It only returns on shutdown.
func (s *Shim) Run() error {
	logger := s.logger

	if err := s.startShell(); err != nil {
		s.send(&Response{Op: "error", Error: fmt.Sprintf("start shell: %v", err)})
		return err
	}

	go s.janitorLoop()

	// Shell death without an exit request means the session is gone; the
	// parent detects our exit and rejects every pending correlation.
	go func() {
		err := s.shell.Wait()
		select {
		case <-s.done:
		default:
			logger.Error().Err(err).Msg("interactive shell exited unexpectedly")
			os.Exit(1)
		}
	}()

	s.send(&Response{Op: "ready"})
	logger.Info().Str("session_id", s.sessionID).Bool("isolated", s.isolated).Msg("shim ready")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn().Err(err).Msg("malformed control message")
			continue
		}
		switch req.Op {
		case "exec":
			go s.handleExec(&req, false)
		case "exec_stream":
			go s.handleExec(&req, true)
		case "exit":
			s.shutdown()
			return nil
		default:
			s.send(&Response{Op: "error", ID: req.ID, Error: fmt.Sprintf("unknown op %q", req.Op)})
		}
	}

	// Parent closed stdin (daemon shutdown or crash).
	s.shutdown()
	return scanner.Err()
}

// startShell launches the interactive shell, inside fresh PID and mount
// namespaces with /proc remounted when the kernel allows it. When isolation
// is requested but unsupported the shell starts plain and a log line says
// so; the session still comes up.
func (s *Shim) startShell() error {
	logger := s.logger
	shell := shellPath()

	var cmd *exec.Cmd
	if s.isolated && IsolationSupported() {
		cmd = exec.Command("unshare", "--pid", "--fork", "--mount", "--mount-proc", shell)
	} else {
		if s.isolated {
			logger.Info().Msg("isolation requested but namespaces unavailable, starting shell without isolation")
		}
		cmd = exec.Command(shell)
	}
	cmd.Dir = s.cwd
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("shell stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", shell, err)
	}
	s.shell = cmd
	s.shellStdin = stdin
	return nil
}

// handleExec runs one command in the shell and reports via result (exec)
// or a stream_event sequence (exec_stream). The shell writes stdout,
// stderr and exit code into three transport files named by the correlation
// id; the exit file doubles as the completion sentinel and is written via
// rename so a partial write is never observed.
func (s *Shim) handleExec(req *Request, stream bool) {
	paths := TransportPaths(s.tempDir, req.ID)
	defer paths.Remove()

	if stream {
		s.send(&Response{Op: "stream_event", ID: req.ID, Event: &types.ExecEvent{Type: types.ExecEventStart}})
	}

	snippet := BuildSnippet(req.Command, req.Cwd, paths)
	s.shellMu.Lock()
	_, err := io.WriteString(s.shellStdin, snippet)
	s.shellMu.Unlock()
	if err != nil {
		s.fail(req, stream, fmt.Sprintf("write to shell: %v", err))
		return
	}

	deadline := time.Now().Add(s.commandTimeout)
	var stdoutOff, stderrOff int64
	for {
		if stream {
			stdoutOff += s.emitDelta(req.ID, types.ExecEventStdout, paths.Stdout, stdoutOff)
			stderrOff += s.emitDelta(req.ID, types.ExecEventStderr, paths.Stderr, stderrOff)
		}

		if code, ok := readExitCode(paths.Exit); ok {
			if stream {
				// Flush whatever landed between the last poll and the sentinel.
				s.emitDelta(req.ID, types.ExecEventStdout, paths.Stdout, stdoutOff)
				s.emitDelta(req.ID, types.ExecEventStderr, paths.Stderr, stderrOff)
				s.send(&Response{Op: "stream_event", ID: req.ID, Event: &types.ExecEvent{
					Type:     types.ExecEventComplete,
					ExitCode: &code,
				}})
			} else {
				stdout, _ := os.ReadFile(paths.Stdout)
				stderr, _ := os.ReadFile(paths.Stderr)
				s.send(&Response{
					Op:       "result",
					ID:       req.ID,
					Stdout:   string(stdout),
					Stderr:   string(stderr),
					ExitCode: &code,
				})
			}
			return
		}

		if time.Now().After(deadline) {
			s.fail(req, stream, "command timed out")
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// emitDelta sends the new suffix of a capture file past off and returns
// how many bytes it advanced.
func (s *Shim) emitDelta(id string, typ types.ExecEventType, path string, off int64) int64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0
	}
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return 0
	}
	s.send(&Response{Op: "stream_event", ID: id, Event: &types.ExecEvent{
		Type: typ,
		Data: string(data),
	}})
	return int64(len(data))
}

func (s *Shim) fail(req *Request, stream bool, msg string) {
	if stream {
		s.send(&Response{Op: "stream_event", ID: req.ID, Event: &types.ExecEvent{
			Type:    types.ExecEventError,
			Message: msg,
		}})
		return
	}
	s.send(&Response{Op: "error", ID: req.ID, Error: msg})
}

// send writes one message; writes are atomic per message.
func (s *Shim) send(resp *Response) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("write control message")
	}
}

func (s *Shim) shutdown() {
	close(s.done)
	if s.shellStdin != nil {
		s.shellStdin.Close()
	}
	if s.shell != nil && s.shell.Process != nil {
		_ = s.shell.Process.Kill()
	}
}

// janitorLoop reclaims stale transport and capture files under tempDir.
func (s *Shim) janitorLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := CleanupTempFiles(s.tempDir, s.tempFileMaxAge)
			if n > 0 {
				s.logger.Debug().Int("removed", n).Msg("temp file cleanup")
			}
		case <-s.done:
			return
		}
	}
}

// CleanupTempFiles deletes cmd_* and proc_* files older than maxAge and
// returns how many were removed.
func CleanupTempFiles(dir string, maxAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "cmd_") && !strings.HasPrefix(name, "proc_") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(dir, name)) == nil {
				removed++
			}
		}
	}
	return removed
}

func shellPath() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	return "sh"
}

func readExitCode(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return code, true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envMs(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
