package process

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// monitorInterval is the capture-file polling cadence while a record
	// has output subscribers.
	monitorInterval = 100 * time.Millisecond

	// killGrace is how long SIGTERM gets before SIGKILL.
	killGrace = 500 * time.Millisecond

	// cleanupDelay defers capture-file deletion after a terminal
	// transition so late log readers still see the final output.
	cleanupDelay = 5 * time.Second
)

// Shell executes one command inside a session's interactive shell. The
// Supervisor launches and probes background processes through it so they
// inherit session cwd and env.
type Shell interface {
	Exec(ctx context.Context, command, cwd string) (*types.ExecResult, error)
}

// StartOptions tune a background process launch.
type StartOptions struct {
	// ProcessID overrides the generated identifier.
	ProcessID string
	// Cwd, when set, must be absolute; the process starts there.
	Cwd string
	// Env variables exported for this process only.
	Env map[string]string
	// Timeout, when positive, bounds the process runtime via timeout(1).
	Timeout time.Duration
	// AutoCleanup deletes capture files after the process reaches a
	// terminal status. Defaults to true; set NoAutoCleanup to keep them.
	NoAutoCleanup bool
}

// Supervisor owns the background process records of one session: launch,
// status polling, log capture, delta fan-out, and kill.
type Supervisor struct {
	sessionID string
	shell     Shell
	tempDir   string
	logger    zerolog.Logger

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	mu sync.Mutex

	info       types.ProcessInfo
	stdoutFile string
	stderrFile string
	exitFile   string

	// Cached capture text; grows monotonically until terminal.
	stdout string
	stderr string

	subs    map[int]*subscriber
	nextSub int

	monitorStop chan struct{}
	notified    bool
	autoCleanup bool
}

// subscriber is one Stream consumer and how far into each capture it has
// been delivered. Offsets advance only on successful sends, so a slow
// consumer falls behind but never observes a gap in the output.
type subscriber struct {
	ch     chan types.ProcessEvent
	outOff int
	errOff int
}

// deliverLocked sends sub everything it has not seen yet: the pending
// suffix of each capture, then, once caught up on a terminal record, the
// complete event. A full channel defers delivery to the next monitor
// tick; the terminal event in particular is never dropped. On delivering
// complete the subscriber is removed and its channel closed. Callers
// hold rec.mu.
func (rec *record) deliverLocked(id int, sub *subscriber) {
	if sub.outOff < len(rec.stdout) {
		select {
		case sub.ch <- types.ProcessEvent{Type: types.ProcessEventStdout, Data: rec.stdout[sub.outOff:]}:
			sub.outOff = len(rec.stdout)
		default:
			return
		}
	}
	if sub.errOff < len(rec.stderr) {
		select {
		case sub.ch <- types.ProcessEvent{Type: types.ProcessEventStderr, Data: rec.stderr[sub.errOff:]}:
			sub.errOff = len(rec.stderr)
		default:
			return
		}
	}
	if !rec.info.Status.Terminal() {
		return
	}
	select {
	case sub.ch <- types.ProcessEvent{
		Type:     types.ProcessEventComplete,
		Status:   rec.info.Status,
		ExitCode: rec.info.ExitCode,
	}:
		delete(rec.subs, id)
		close(sub.ch)
	default:
	}
}

// NewSupervisor creates a supervisor for one session.
func NewSupervisor(sessionID string, shell Shell, tempDir string) *Supervisor {
	return &Supervisor{
		sessionID: sessionID,
		shell:     shell,
		tempDir:   tempDir,
		logger:    log.WithSessionID(sessionID),
		records:   make(map[string]*record),
	}
}

// Start launches a detached background process through the session shell
// and records it. The shell prints the spawned pid; stdout and stderr are
// captured into files the monitor tails.
func (s *Supervisor) Start(ctx context.Context, command string, opts StartOptions) (*types.ProcessInfo, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errdefs.New(errdefs.CodeInvalidCommand, "command must not be empty")
	}
	if opts.Cwd != "" && !filepath.IsAbs(opts.Cwd) {
		return nil, errdefs.Newf(errdefs.CodeValidationFailed, "cwd must be absolute, got %q", opts.Cwd)
	}

	id := opts.ProcessID
	if id == "" {
		id = "proc_" + uuid.New().String()[:8]
	}

	s.mu.Lock()
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return nil, errdefs.Newf(errdefs.CodeValidationFailed, "process id %q already in use", id)
	}
	rec := &record{
		info: types.ProcessInfo{
			ID:        id,
			Command:   command,
			SessionID: s.sessionID,
			Status:    types.ProcessStarting,
			StartTime: time.Now(),
		},
		stdoutFile:  filepath.Join(s.tempDir, "proc_"+id+".stdout"),
		stderrFile:  filepath.Join(s.tempDir, "proc_"+id+".stderr"),
		exitFile:    filepath.Join(s.tempDir, "proc_"+id+".exit"),
		subs:        make(map[int]*subscriber),
		autoCleanup: !opts.NoAutoCleanup,
	}
	s.records[id] = rec
	s.mu.Unlock()

	res, err := s.shell.Exec(ctx, s.launchCommand(command, rec, opts), opts.Cwd)
	if err != nil || res.ExitCode != 0 {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		s.failStart(rec, stderr)
		if err != nil {
			return nil, errdefs.Wrap(err, errdefs.CodeProcessStartError, "start background process")
		}
		return nil, errdefs.Newf(errdefs.CodeProcessStartError, "start background process: %s", stderr)
	}

	pid, perr := parsePid(res.Stdout)
	if perr != nil {
		s.failStart(rec, res.Stdout)
		return nil, errdefs.Wrap(perr, errdefs.CodeProcessStartError, "parse background pid")
	}

	rec.mu.Lock()
	rec.info.Pid = pid
	rec.info.Status = types.ProcessRunning
	info := rec.info
	rec.mu.Unlock()

	s.logger.Info().Str("process_id", id).Int("pid", pid).Msg("background process started")
	return &info, nil
}

// launchCommand builds the single shell line that detaches the process:
// nohup wraps a subshell that runs the user command and records its exit
// code, with stdout/stderr redirected into the capture files, then echoes
// the spawned pid.
func (s *Supervisor) launchCommand(command string, rec *record, opts StartOptions) string {
	var inner strings.Builder
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&inner, "export %s=%s; ", k, shim.Quote(opts.Env[k]))
	}
	// The user command runs in its own shell so an exit inside it cannot
	// skip the exit-code capture below.
	if opts.Timeout > 0 {
		fmt.Fprintf(&inner, "timeout %d sh -c %s; ", int(opts.Timeout.Seconds()), shim.Quote(command))
	} else {
		fmt.Fprintf(&inner, "sh -c %s; ", shim.Quote(command))
	}
	fmt.Fprintf(&inner, "echo $? > %s", shim.Quote(rec.exitFile))

	return fmt.Sprintf("nohup sh -c %s > %s 2> %s & echo $!",
		shim.Quote(inner.String()), shim.Quote(rec.stdoutFile), shim.Quote(rec.stderrFile))
}

func (s *Supervisor) failStart(rec *record, stderr string) {
	rec.mu.Lock()
	rec.info.Status = types.ProcessError
	now := time.Now()
	rec.info.EndTime = &now
	rec.stderr = stderr
	rec.mu.Unlock()
	removeCaptureFiles(rec)
}

// Get returns a process after refreshing its liveness.
func (s *Supervisor) Get(id string) (*types.ProcessInfo, error) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, errdefs.Newf(errdefs.CodeResourceNotFound, "process %q not found", id)
	}
	s.refresh(rec)
	rec.mu.Lock()
	info := rec.info
	rec.mu.Unlock()
	return &info, nil
}

// List returns all processes of the session, refreshing any still marked
// running.
func (s *Supervisor) List() []types.ProcessInfo {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.Unlock()

	infos := make([]types.ProcessInfo, 0, len(recs))
	for _, r := range recs {
		s.refresh(r)
		r.mu.Lock()
		infos = append(infos, r.info)
		r.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Logs returns monotonic snapshots of the captured stdout and stderr.
func (s *Supervisor) Logs(id string) (stdout, stderr string, err error) {
	rec := s.lookup(id)
	if rec == nil {
		return "", "", errdefs.Newf(errdefs.CodeResourceNotFound, "process %q not found", id)
	}
	s.refresh(rec)
	s.readDeltas(rec)
	rec.mu.Lock()
	stdout, stderr = rec.stdout, rec.stderr
	rec.mu.Unlock()
	return stdout, stderr, nil
}

// Stream subscribes to a process's output. The channel first replays the
// already-captured text, then carries strictly-extending deltas, and ends
// with one terminal complete event. The returned cancel function detaches
// the subscriber; the monitor stops when the last subscriber leaves.
func (s *Supervisor) Stream(id string) (<-chan types.ProcessEvent, func(), error) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, nil, errdefs.Newf(errdefs.CodeResourceNotFound, "process %q not found", id)
	}
	s.refresh(rec)
	s.readDeltas(rec)

	ch := make(chan types.ProcessEvent, 256)

	rec.mu.Lock()
	if rec.info.Status.Terminal() {
		if rec.stdout != "" {
			ch <- types.ProcessEvent{Type: types.ProcessEventStdout, Data: rec.stdout}
		}
		if rec.stderr != "" {
			ch <- types.ProcessEvent{Type: types.ProcessEventStderr, Data: rec.stderr}
		}
		ch <- types.ProcessEvent{
			Type:     types.ProcessEventComplete,
			Status:   rec.info.Status,
			ExitCode: rec.info.ExitCode,
		}
		rec.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}

	subID := rec.nextSub
	rec.nextSub++
	sub := &subscriber{ch: ch}
	rec.subs[subID] = sub
	// Replay the already-captured text into the fresh buffer.
	rec.deliverLocked(subID, sub)
	startMonitor := rec.monitorStop == nil
	if startMonitor {
		rec.monitorStop = make(chan struct{})
	}
	stop := rec.monitorStop
	rec.mu.Unlock()

	if startMonitor {
		go s.monitor(rec, stop)
	}

	cancel := func() {
		rec.mu.Lock()
		if sub, ok := rec.subs[subID]; ok {
			delete(rec.subs, subID)
			close(sub.ch)
		}
		if len(rec.subs) == 0 && rec.monitorStop != nil {
			close(rec.monitorStop)
			rec.monitorStop = nil
		}
		rec.mu.Unlock()
	}
	return ch, cancel, nil
}

// Kill terminates a process: SIGTERM, a short grace window, then SIGKILL.
// Final logs are flushed, the record turns killed, subscribers are
// notified, and capture files are scheduled for removal.
func (s *Supervisor) Kill(id string) (*types.ProcessInfo, error) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, errdefs.Newf(errdefs.CodeResourceNotFound, "process %q not found", id)
	}
	s.refresh(rec)

	rec.mu.Lock()
	if rec.info.Status.Terminal() {
		info := rec.info
		rec.mu.Unlock()
		return &info, nil
	}
	pid := rec.info.Pid
	rec.mu.Unlock()

	if pid > 0 {
		s.signal(pid, "TERM")
		deadline := time.Now().Add(killGrace)
		for time.Now().Before(deadline) {
			if !s.alive(pid) {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if s.alive(pid) {
			s.signal(pid, "KILL")
		}
	}

	s.readDeltas(rec)
	s.finalize(rec, types.ProcessKilled, nil)

	rec.mu.Lock()
	info := rec.info
	rec.mu.Unlock()
	s.logger.Info().Str("process_id", id).Msg("background process killed")
	return &info, nil
}

// KillAll kills every non-terminal process and returns how many it killed.
func (s *Supervisor) KillAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	killed := 0
	for _, id := range ids {
		rec := s.lookup(id)
		if rec == nil {
			continue
		}
		rec.mu.Lock()
		terminal := rec.info.Status.Terminal()
		rec.mu.Unlock()
		if terminal {
			continue
		}
		if _, err := s.Kill(id); err == nil {
			killed++
		}
	}
	return killed, nil
}

func (s *Supervisor) lookup(id string) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// refresh polls liveness with a zero-signal kill probe and settles the
// record if the process is gone. Terminal transitions are one-way.
func (s *Supervisor) refresh(rec *record) {
	rec.mu.Lock()
	running := rec.info.Status == types.ProcessRunning
	pid := rec.info.Pid
	rec.mu.Unlock()
	if !running || pid <= 0 {
		return
	}
	if s.alive(pid) {
		return
	}

	s.readDeltas(rec)

	code, ok := readExitCode(rec.exitFile)
	status := types.ProcessCompleted
	var exitCode *int
	if ok {
		exitCode = &code
		if code != 0 {
			status = types.ProcessFailed
		}
	}
	s.finalize(rec, status, exitCode)
}

// finalize moves a record to a terminal status exactly once: stamps the
// end time, delivers to subscribers, and schedules capture-file
// deletion. A subscriber whose channel is full keeps the monitor alive
// until its terminal event lands.
func (s *Supervisor) finalize(rec *record, status types.ProcessStatus, exitCode *int) {
	rec.mu.Lock()
	if rec.notified {
		rec.mu.Unlock()
		return
	}
	rec.notified = true
	rec.info.Status = status
	now := time.Now()
	rec.info.EndTime = &now
	rec.info.ExitCode = exitCode

	for id, sub := range rec.subs {
		rec.deliverLocked(id, sub)
	}
	if len(rec.subs) == 0 && rec.monitorStop != nil {
		close(rec.monitorStop)
		rec.monitorStop = nil
	}
	autoCleanup := rec.autoCleanup
	rec.mu.Unlock()

	if autoCleanup {
		time.AfterFunc(cleanupDelay, func() { removeCaptureFiles(rec) })
	}
}

// monitor tails the capture files while at least one subscriber is
// attached, delivering each its pending suffix, and refreshes status. On
// a terminal record it keeps ticking until every subscriber has received
// the complete event.
func (s *Supervisor) monitor(rec *record, stop chan struct{}) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.readDeltas(rec)
			s.refresh(rec)
			rec.mu.Lock()
			for id, sub := range rec.subs {
				rec.deliverLocked(id, sub)
			}
			done := rec.info.Status.Terminal() && len(rec.subs) == 0
			if done && rec.monitorStop == stop {
				rec.monitorStop = nil
			}
			rec.mu.Unlock()
			if done {
				return
			}
		case <-stop:
			return
		}
	}
}

// readDeltas extends the cached stdout/stderr from the capture files.
// Caches only grow; a shorter file (deleted or truncated) never shrinks
// the delivered prefix.
func (s *Supervisor) readDeltas(rec *record) {
	stdout := readFileString(rec.stdoutFile)
	stderr := readFileString(rec.stderrFile)

	rec.mu.Lock()
	if len(stdout) > len(rec.stdout) {
		rec.stdout = stdout
	}
	if len(stderr) > len(rec.stderr) {
		rec.stderr = stderr
	}
	rec.mu.Unlock()
}

// alive probes the pid with a zero signal through the session shell, so
// that an isolated session's namespace-local pid resolves where the
// process actually lives rather than in the daemon's namespace.
func (s *Supervisor) alive(pid int) bool {
	res, err := s.shell.Exec(context.Background(), fmt.Sprintf("kill -0 %d 2>/dev/null", pid), "")
	return err == nil && res.ExitCode == 0
}

// signal sends a named signal through the session shell, same namespace
// reasoning as alive.
func (s *Supervisor) signal(pid int, sig string) {
	_, _ = s.shell.Exec(context.Background(), fmt.Sprintf("kill -%s %d 2>/dev/null", sig, pid), "")
}

func parsePid(stdout string) (int, error) {
	lines := strings.Fields(strings.TrimSpace(stdout))
	if len(lines) == 0 {
		return 0, fmt.Errorf("no pid in output %q", stdout)
	}
	pid, err := strconv.Atoi(lines[len(lines)-1])
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in output %q", stdout)
	}
	return pid, nil
}
