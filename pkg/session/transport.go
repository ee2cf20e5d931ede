package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

// TransportConfig is the environment contract handed to a control child.
type TransportConfig struct {
	SessionID       string
	Cwd             string
	Isolated        bool
	CommandTimeout  time.Duration
	CleanupInterval time.Duration
	TempFileMaxAge  time.Duration
	TempDir         string
}

// Transport owns one control child and the line-delimited JSON wire to it.
// Writes are atomic per message; replies are matched by correlation id, so
// several requests may be in flight on one wire.
type Transport struct {
	sessionID string
	timeout   time.Duration
	logger    zerolog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *shim.Response
	streams map[string]*stream

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	readDone  chan struct{}
}

// stream is one live exec_stream subscription. Only the wire readers
// (readLoop, and waitLoop once the reader is drained) may close ch;
// Cancel signals cancel instead, so a detach can never race a send.
type stream struct {
	ch     chan types.ExecEvent
	cancel chan struct{}
}

// StartTransport re-execs the daemon binary as a control child for one
// session and begins dispatching its messages. The child signals readiness
// once its interactive shell is up; use WaitReady before issuing requests.
func StartTransport(cfg TransportConfig) (*Transport, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe)
	isolated := "0"
	if cfg.Isolated {
		isolated = "1"
	}
	cmd.Env = append(os.Environ(),
		shim.EnvFlag+"=1",
		"SESSION_ID="+cfg.SessionID,
		"SESSION_CWD="+cfg.Cwd,
		"SESSION_ISOLATED="+isolated,
		"COMMAND_TIMEOUT_MS="+strconv.FormatInt(cfg.CommandTimeout.Milliseconds(), 10),
		"CLEANUP_INTERVAL_MS="+strconv.FormatInt(cfg.CleanupInterval.Milliseconds(), 10),
		"TEMP_FILE_MAX_AGE_MS="+strconv.FormatInt(cfg.TempFileMaxAge.Milliseconds(), 10),
		"TEMP_DIR="+cfg.TempDir,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("control stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("control stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("control stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start control child: %w", err)
	}

	t := &Transport{
		sessionID: cfg.SessionID,
		timeout:   cfg.CommandTimeout,
		logger:    log.WithSessionID(cfg.SessionID),
		cmd:       cmd,
		stdin:     stdin,
		pending:   make(map[string]chan *shim.Response),
		streams:   make(map[string]*stream),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}

	go t.readLoop(stdout)
	go t.logStderr(stderr)
	go t.waitLoop()

	return t, nil
}

// WaitReady blocks until the child signals ready, the child exits, or the
// context ends.
func (t *Transport) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.done:
		return errdefs.New(errdefs.CodeSessionTerminated, "control process exited before ready")
	case <-ctx.Done():
		return errdefs.Wrap(ctx.Err(), errdefs.CodeTimeout, "waiting for control process")
	}
}

// Ready reports whether the child has signalled readiness and is still up.
func (t *Transport) Ready() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// Roundtrip sends one request and waits for its correlated reply. A reply
// that does not arrive within the command timeout rejects the correlation
// with a timeout error; child exit rejects it with session terminated.
func (t *Transport) Roundtrip(ctx context.Context, req *shim.Request) (*shim.Response, error) {
	select {
	case <-t.done:
		return nil, errdefs.New(errdefs.CodeSessionTerminated, "session terminated")
	default:
	}

	ch := make(chan *shim.Response, 1)
	t.mu.Lock()
	t.pending[req.ID] = ch
	t.mu.Unlock()

	if err := t.writeRequest(req); err != nil {
		t.dropPending(req.ID)
		return nil, errdefs.Wrap(err, errdefs.CodeSessionTerminated, "write to control process")
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		t.dropPending(req.ID)
		return nil, errdefs.Newf(errdefs.CodeTimeout, "command timed out after %v", t.timeout)
	case <-t.done:
		t.dropPending(req.ID)
		return nil, errdefs.New(errdefs.CodeSessionTerminated, "session terminated")
	case <-ctx.Done():
		t.dropPending(req.ID)
		return nil, errdefs.Wrap(ctx.Err(), errdefs.CodeTimeout, "request cancelled")
	}
}

// OpenStream sends a streaming request and returns the event channel. The
// channel is closed after the terminal event. Cancel detaches the stream:
// future events are dropped, the child keeps running, and its final result
// is discarded.
func (t *Transport) OpenStream(req *shim.Request) (<-chan types.ExecEvent, error) {
	select {
	case <-t.done:
		return nil, errdefs.New(errdefs.CodeSessionTerminated, "session terminated")
	default:
	}

	st := &stream{
		ch:     make(chan types.ExecEvent, 256),
		cancel: make(chan struct{}),
	}
	t.mu.Lock()
	t.streams[req.ID] = st
	t.mu.Unlock()

	if err := t.writeRequest(req); err != nil {
		t.Cancel(req.ID)
		return nil, errdefs.Wrap(err, errdefs.CodeSessionTerminated, "write to control process")
	}
	return st.ch, nil
}

// Cancel detaches a stream subscription: future events for the
// correlation are discarded and any in-flight delivery is released. The
// event channel is left open; a detached consumer must not read it again.
func (t *Transport) Cancel(id string) {
	t.mu.Lock()
	st, ok := t.streams[id]
	delete(t.streams, id)
	t.mu.Unlock()
	if ok {
		close(st.cancel)
	}
}

// Close asks the child to exit, then reaps it.
func (t *Transport) Close() error {
	_ = t.writeRequest(&shim.Request{Op: "exit"})
	t.stdin.Close()

	select {
	case <-t.done:
	case <-time.After(2 * time.Second):
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	}
	return nil
}

func (t *Transport) writeRequest(req *shim.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(data)
	return err
}

func (t *Transport) readLoop(stdout io.Reader) {
	defer close(t.readDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp shim.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Warn().Err(err).Msg("malformed control reply")
			continue
		}

		switch resp.Op {
		case "ready":
			t.readyOnce.Do(func() { close(t.ready) })
		case "result", "error":
			t.mu.Lock()
			ch, ok := t.pending[resp.ID]
			delete(t.pending, resp.ID)
			t.mu.Unlock()
			if ok {
				ch <- &resp
			}
		case "stream_event":
			t.dispatchEvent(&resp)
		default:
			t.logger.Warn().Str("op", resp.Op).Msg("unknown control op")
		}
	}
}

func (t *Transport) dispatchEvent(resp *shim.Response) {
	if resp.Event == nil {
		return
	}
	t.mu.Lock()
	st, ok := t.streams[resp.ID]
	t.mu.Unlock()
	if !ok {
		// Stream was cancelled; the child keeps running and its events
		// are discarded.
		return
	}

	select {
	case st.ch <- *resp.Event:
	case <-st.cancel:
		return
	case <-t.done:
		return
	}

	if resp.Event.Type == types.ExecEventComplete || resp.Event.Type == types.ExecEventError {
		t.mu.Lock()
		owned := t.streams[resp.ID] == st
		if owned {
			delete(t.streams, resp.ID)
		}
		t.mu.Unlock()
		// A concurrent Cancel took the entry; the detached consumer no
		// longer reads the channel, so leave it open.
		if owned {
			close(st.ch)
		}
	}
}

func (t *Transport) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug().Str("stream", "control-stderr").Msg(scanner.Text())
	}
}

// waitLoop reaps the child. Any exit, graceful or crash, rejects every
// pending correlation with session terminated and marks the wire dead.
func (t *Transport) waitLoop() {
	err := t.cmd.Wait()

	t.doneOnce.Do(func() { close(t.done) })

	// Wait closed the stdout pipe, so the reader is winding down; once it
	// returns no dispatch can be in flight and the remaining stream
	// channels are safe to fail and close.
	<-t.readDone

	t.mu.Lock()
	pending := t.pending
	streams := t.streams
	t.pending = make(map[string]chan *shim.Response)
	t.streams = make(map[string]*stream)
	t.mu.Unlock()

	for id, ch := range pending {
		ch <- &shim.Response{Op: "error", ID: id, Error: "session terminated"}
	}
	for _, st := range streams {
		select {
		case st.ch <- types.ExecEvent{Type: types.ExecEventError, Message: "session terminated"}:
		default:
		}
		close(st.ch)
	}

	if err != nil {
		t.logger.Warn().Err(err).Msg("control process exited")
	} else {
		t.logger.Debug().Msg("control process exited")
	}
}

func (t *Transport) dropPending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}
