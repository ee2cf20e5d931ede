package interpreter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
)

// kernelReadyTimeout bounds how long a freshly launched kernel may take to
// announce itself before the launch is abandoned.
const kernelReadyTimeout = 30 * time.Second

// KernelMessage is one event emitted during a code execution. The stream
// for a single execution is zero or more stdout/stderr/display_data/
// execution_result/error messages followed by exactly one
// execution_complete, after which the channel closes.
type KernelMessage struct {
	Type      string          `json:"type"`
	Data      string          `json:"data,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Ename     string          `json:"ename,omitempty"`
	Evalue    string          `json:"evalue,omitempty"`
	Traceback []string        `json:"traceback,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Message types produced by kernels.
const (
	MsgStdout   = "stdout"
	MsgStderr   = "stderr"
	MsgDisplay  = "display_data"
	MsgResult   = "execution_result"
	MsgError    = "error"
	MsgComplete = "execution_complete"
	msgReady    = "ready"
)

// Kernel is one live interpreter process bound to a context.
type Kernel interface {
	// Execute runs code and returns its event stream. The channel closes
	// after the terminal execution_complete (or an error event when the
	// kernel dies mid-execution).
	Execute(ctx context.Context, code string) (<-chan KernelMessage, error)
	// SetCwd changes the kernel's working directory.
	SetCwd(ctx context.Context, cwd string) error
	// SetEnv merges variables into the kernel's process environment.
	SetEnv(ctx context.Context, env map[string]string) error
	// Alive reports whether the kernel process is still serving.
	Alive() bool
	// Shutdown terminates the kernel process.
	Shutdown() error
}

// Manager launches kernels. The stdio implementation spawns real
// interpreter processes; tests substitute a fake.
type Manager interface {
	Start(ctx context.Context, language string) (Kernel, error)
}

// stdioManager launches kernel processes from the configured argv and
// speaks line-delimited JSON over their stdin/stdout.
type stdioManager struct {
	cfg       config.InterpreterConfig
	workspace string
	logger    zerolog.Logger
}

// NewStdioManager creates the production kernel launcher.
func NewStdioManager(cfg config.InterpreterConfig, workspace string) Manager {
	return &stdioManager{
		cfg:       cfg,
		workspace: workspace,
		logger:    log.WithComponent("kernel"),
	}
}

func (m *stdioManager) Start(ctx context.Context, language string) (Kernel, error) {
	lc, ok := m.cfg.Languages[language]
	if !ok {
		return nil, errdefs.Newf(errdefs.CodeValidationFailed, "unsupported language %q", language)
	}

	cmd := exec.Command(lc.Command[0], lc.Command[1:]...)
	cmd.Dir = m.workspace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.CodeInterpreterNotReady, "open kernel stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.CodeInterpreterNotReady, "open kernel stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.CodeInterpreterNotReady, "open kernel stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, errdefs.Wrap(err, errdefs.CodeInterpreterNotReady, "start kernel process")
	}

	k := &stdioKernel{
		language: language,
		cmd:      cmd,
		stdin:    stdin,
		pending:  make(map[string]chan KernelMessage),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		logger:   m.logger.With().Str("language", language).Int("pid", cmd.Process.Pid).Logger(),
	}
	go k.readLoop(stdout)
	go k.logStderr(stderr)
	go k.waitLoop()

	select {
	case <-k.ready:
	case <-k.done:
		return nil, errdefs.Newf(errdefs.CodeInterpreterNotReady, "%s kernel exited before ready", language)
	case <-time.After(kernelReadyTimeout):
		_ = k.Shutdown()
		return nil, errdefs.Newf(errdefs.CodeInterpreterNotReady, "%s kernel ready timeout", language)
	case <-ctx.Done():
		_ = k.Shutdown()
		return nil, ctx.Err()
	}

	m.logger.Info().Str("language", language).Int("pid", cmd.Process.Pid).Msg("kernel started")
	return k, nil
}

// kernelRequest is one line sent to the kernel.
type kernelRequest struct {
	Op   string            `json:"op"`
	ID   string            `json:"id"`
	Code string            `json:"code,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// kernelWireMsg is one line received from the kernel: a KernelMessage
// tagged with the request id it answers.
type kernelWireMsg struct {
	ID string `json:"id"`
	KernelMessage
}

type stdioKernel struct {
	language string
	cmd      *exec.Cmd
	logger   zerolog.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending map[string]chan KernelMessage

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func (k *stdioKernel) Execute(ctx context.Context, code string) (<-chan KernelMessage, error) {
	if !k.Alive() {
		return nil, errdefs.New(errdefs.CodeInterpreterNotReady, "kernel is not running")
	}

	id := uuid.New().String()
	ch := make(chan KernelMessage, 64)

	k.mu.Lock()
	k.pending[id] = ch
	k.mu.Unlock()

	if err := k.send(kernelRequest{Op: "execute", ID: id, Code: code}); err != nil {
		k.mu.Lock()
		delete(k.pending, id)
		k.mu.Unlock()
		return nil, errdefs.Wrap(err, errdefs.CodeExecutionError, "write to kernel")
	}
	return ch, nil
}

func (k *stdioKernel) SetCwd(ctx context.Context, cwd string) error {
	ch, err := k.roundtripStream(kernelRequest{Op: "set_cwd", ID: uuid.New().String(), Cwd: cwd})
	if err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Type == MsgError {
				return errdefs.Newf(errdefs.CodeExecutionError, "set cwd: %s", msg.Evalue)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (k *stdioKernel) SetEnv(ctx context.Context, env map[string]string) error {
	if len(env) == 0 {
		return nil
	}
	ch, err := k.roundtripStream(kernelRequest{Op: "set_env", ID: uuid.New().String(), Env: env})
	if err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Type == MsgError {
				return errdefs.Newf(errdefs.CodeExecutionError, "set env: %s", msg.Evalue)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (k *stdioKernel) roundtripStream(req kernelRequest) (<-chan KernelMessage, error) {
	if !k.Alive() {
		return nil, errdefs.New(errdefs.CodeInterpreterNotReady, "kernel is not running")
	}
	ch := make(chan KernelMessage, 8)
	k.mu.Lock()
	k.pending[req.ID] = ch
	k.mu.Unlock()
	if err := k.send(req); err != nil {
		k.mu.Lock()
		delete(k.pending, req.ID)
		k.mu.Unlock()
		return nil, errdefs.Wrap(err, errdefs.CodeExecutionError, "write to kernel")
	}
	return ch, nil
}

func (k *stdioKernel) Alive() bool {
	select {
	case <-k.done:
		return false
	default:
		return true
	}
}

// Shutdown closes the kernel's stdin and sends SIGTERM; a kernel that
// has not exited after the grace window is SIGKILLed. Kernels are direct
// children of the daemon, so signaling their pid is safe here.
func (k *stdioKernel) Shutdown() error {
	k.writeMu.Lock()
	_ = k.stdin.Close()
	k.writeMu.Unlock()

	if k.cmd.Process != nil {
		_ = unix.Kill(k.cmd.Process.Pid, unix.SIGTERM)
	}
	select {
	case <-k.done:
		return nil
	case <-time.After(2 * time.Second):
	}
	if k.cmd.Process != nil {
		_ = unix.Kill(k.cmd.Process.Pid, unix.SIGKILL)
	}
	return nil
}

func (k *stdioKernel) send(req kernelRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	_, err = fmt.Fprintf(k.stdin, "%s\n", data)
	return err
}

func (k *stdioKernel) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var msg kernelWireMsg
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			k.logger.Warn().Err(err).Msg("malformed kernel message")
			continue
		}
		if msg.Type == msgReady {
			k.readyOnce.Do(func() { close(k.ready) })
			continue
		}

		k.mu.Lock()
		ch, ok := k.pending[msg.ID]
		if ok && msg.Type == MsgComplete {
			delete(k.pending, msg.ID)
		}
		k.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case ch <- msg.KernelMessage:
		default:
			k.logger.Warn().Str("id", msg.ID).Msg("kernel stream full, dropping message")
		}
		if msg.Type == MsgComplete {
			close(ch)
		}
	}
}

func (k *stdioKernel) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		k.logger.Debug().Str("stream", "kernel-stderr").Msg(scanner.Text())
	}
}

// waitLoop reaps the kernel process and fails every in-flight execution
// once it is gone.
func (k *stdioKernel) waitLoop() {
	err := k.cmd.Wait()
	k.doneOnce.Do(func() { close(k.done) })

	k.mu.Lock()
	pending := k.pending
	k.pending = make(map[string]chan KernelMessage)
	k.mu.Unlock()

	for id, ch := range pending {
		select {
		case ch <- KernelMessage{Type: MsgError, Ename: "KernelTerminated", Evalue: "kernel process exited"}:
		default:
		}
		close(ch)
		k.logger.Warn().Str("id", id).Msg("execution aborted by kernel exit")
	}
	if err != nil {
		k.logger.Warn().Err(err).Msg("kernel exited")
	}
}
