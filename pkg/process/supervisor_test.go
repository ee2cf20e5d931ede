package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

// localShell runs commands directly, standing in for a session shell.
type localShell struct{}

func (localShell) Exec(ctx context.Context, command, cwd string) (*types.ExecResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}
	return &types.ExecResult{
		Success:  exitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Command:  command,
	}, nil
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return NewSupervisor("test-session", localShell{}, t.TempDir())
}

// waitTerminal polls until the process settles or the deadline passes.
func waitTerminal(t *testing.T, s *Supervisor, id string) *types.ProcessInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := s.Get(id)
		require.NoError(t, err)
		if info.Status.Terminal() {
			return info
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process %s did not terminate", id)
	return nil
}

func TestStartAndComplete(t *testing.T) {
	s := newTestSupervisor(t)

	info, err := s.Start(context.Background(), "echo hello", StartOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.ID, "proc_"))
	assert.Greater(t, info.Pid, 0)
	assert.Equal(t, "test-session", info.SessionID)

	final := waitTerminal(t, s, info.ID)
	assert.Equal(t, types.ProcessCompleted, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
	require.NotNil(t, final.EndTime)

	stdout, stderr, err := s.Logs(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)
	assert.Empty(t, stderr)
}

func TestStartEmptyCommand(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Start(context.Background(), "   ", StartOptions{})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidCommand, errdefs.GetCode(err))
}

func TestStartRelativeCwd(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Start(context.Background(), "echo hi", StartOptions{Cwd: "relative/path"})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeValidationFailed, errdefs.GetCode(err))
}

func TestStartDuplicateID(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Start(context.Background(), "sleep 5", StartOptions{ProcessID: "worker"})
	require.NoError(t, err)

	_, err = s.Start(context.Background(), "sleep 5", StartOptions{ProcessID: "worker"})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeValidationFailed, errdefs.GetCode(err))
}

func TestFailedCommandMarksFailed(t *testing.T) {
	s := newTestSupervisor(t)

	info, err := s.Start(context.Background(), "exit 3", StartOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, s, info.ID)
	assert.Equal(t, types.ProcessFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
}

func TestGetUnknown(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Get("proc_missing")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeResourceNotFound, errdefs.GetCode(err))
}

func TestEnvAndCwdApply(t *testing.T) {
	s := newTestSupervisor(t)
	dir := t.TempDir()

	info, err := s.Start(context.Background(), "echo $GREETING; pwd", StartOptions{
		Cwd: dir,
		Env: map[string]string{"GREETING": "hi there"},
	})
	require.NoError(t, err)

	waitTerminal(t, s, info.ID)
	stdout, _, err := s.Logs(info.ID)
	require.NoError(t, err)
	assert.Contains(t, stdout, "hi there\n")
	assert.Contains(t, stdout, dir)
}

func TestStreamDeliversDeltasAndComplete(t *testing.T) {
	s := newTestSupervisor(t)

	info, err := s.Start(context.Background(),
		"for i in 1 2 3; do echo $i; sleep 0.05; done", StartOptions{})
	require.NoError(t, err)

	events, cancel, err := s.Stream(info.ID)
	require.NoError(t, err)
	defer cancel()

	var stdout strings.Builder
	var complete *types.ProcessEvent
	timeout := time.After(5 * time.Second)
	for complete == nil {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed without complete event")
			}
			switch ev.Type {
			case types.ProcessEventStdout:
				stdout.WriteString(ev.Data)
			case types.ProcessEventComplete:
				complete = &ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}

	assert.Equal(t, "1\n2\n3\n", stdout.String())
	assert.Equal(t, types.ProcessCompleted, complete.Status)
	require.NotNil(t, complete.ExitCode)
	assert.Equal(t, 0, *complete.ExitCode)
}

func TestStreamTerminalProcessReplaysAndCloses(t *testing.T) {
	s := newTestSupervisor(t)

	info, err := s.Start(context.Background(), "echo done", StartOptions{})
	require.NoError(t, err)
	waitTerminal(t, s, info.ID)

	events, cancel, err := s.Stream(info.ID)
	require.NoError(t, err)
	defer cancel()

	var got []types.ProcessEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, types.ProcessEventStdout, got[0].Type)
	assert.Equal(t, "done\n", got[0].Data)
	assert.Equal(t, types.ProcessEventComplete, got[1].Type)
}

func TestKill(t *testing.T) {
	s := newTestSupervisor(t)

	info, err := s.Start(context.Background(), "sleep 30", StartOptions{})
	require.NoError(t, err)

	killed, err := s.Kill(info.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProcessKilled, killed.Status)
	require.NotNil(t, killed.EndTime)

	// Idempotent on terminal records.
	again, err := s.Kill(info.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProcessKilled, again.Status)
}

func TestKillAll(t *testing.T) {
	s := newTestSupervisor(t)

	for i := 0; i < 3; i++ {
		_, err := s.Start(context.Background(), "sleep 30", StartOptions{})
		require.NoError(t, err)
	}
	done, err := s.Start(context.Background(), "true", StartOptions{})
	require.NoError(t, err)
	waitTerminal(t, s, done.ID)

	killed, err := s.KillAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, killed)
}

func TestListSorted(t *testing.T) {
	s := newTestSupervisor(t)

	for _, id := range []string{"b", "a", "c"} {
		_, err := s.Start(context.Background(), "true", StartOptions{ProcessID: id})
		require.NoError(t, err)
	}

	infos := s.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "b", infos[1].ID)
	assert.Equal(t, "c", infos[2].ID)
}

func TestSlowSubscriberNeverSkipsOutput(t *testing.T) {
	rec := &record{
		info: types.ProcessInfo{Status: types.ProcessRunning},
		subs: make(map[int]*subscriber),
	}
	sub := &subscriber{ch: make(chan types.ProcessEvent, 1)}
	rec.subs[0] = sub

	rec.mu.Lock()
	rec.stdout = "first "
	rec.deliverLocked(0, sub)
	rec.mu.Unlock()

	// The channel is full; new output must wait, not vanish.
	rec.mu.Lock()
	rec.stdout = "first second"
	rec.deliverLocked(0, sub)
	rec.mu.Unlock()

	ev := <-sub.ch
	assert.Equal(t, "first ", ev.Data)

	rec.mu.Lock()
	rec.deliverLocked(0, sub)
	rec.mu.Unlock()

	ev = <-sub.ch
	assert.Equal(t, "second", ev.Data, "the delayed suffix arrives intact")
}

func TestTerminalEventSurvivesFullChannel(t *testing.T) {
	code := 0
	rec := &record{
		info: types.ProcessInfo{Status: types.ProcessCompleted, ExitCode: &code},
		subs: make(map[int]*subscriber),
	}
	sub := &subscriber{ch: make(chan types.ProcessEvent, 1)}
	rec.subs[0] = sub
	rec.stdout = "tail"

	rec.mu.Lock()
	rec.deliverLocked(0, sub)
	rec.mu.Unlock()

	// Output filled the only slot, so complete is still owed and the
	// subscriber stays registered for the next delivery round.
	require.Len(t, rec.subs, 1)

	ev := <-sub.ch
	assert.Equal(t, types.ProcessEventStdout, ev.Type)

	rec.mu.Lock()
	rec.deliverLocked(0, sub)
	rec.mu.Unlock()

	ev, ok := <-sub.ch
	require.True(t, ok)
	assert.Equal(t, types.ProcessEventComplete, ev.Type)
	assert.Equal(t, types.ProcessCompleted, ev.Status)
	_, ok = <-sub.ch
	assert.False(t, ok, "channel closes after the terminal event")
	assert.Empty(t, rec.subs)
}

// recordingShell captures every command routed through the session shell.
type recordingShell struct {
	mu       sync.Mutex
	commands []string
	inner    localShell
}

func (r *recordingShell) Exec(ctx context.Context, command, cwd string) (*types.ExecResult, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.mu.Unlock()
	return r.inner.Exec(ctx, command, cwd)
}

func (r *recordingShell) seen(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func TestKillSignalsThroughSessionShell(t *testing.T) {
	shell := &recordingShell{}
	s := NewSupervisor("test-session", shell, t.TempDir())

	info, err := s.Start(context.Background(), "sleep 30", StartOptions{})
	require.NoError(t, err)

	killed, err := s.Kill(info.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProcessKilled, killed.Status)

	// Signals and liveness probes must run where the pid is valid: inside
	// the session shell, not the supervisor's own process.
	assert.True(t, shell.seen(fmt.Sprintf("kill -TERM %d", info.Pid)))
	assert.True(t, shell.seen(fmt.Sprintf("kill -0 %d", info.Pid)))
}

func TestParsePid(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    int
		wantErr bool
	}{
		{"plain pid", "12345\n", 12345, false},
		{"pid with noise", "some output\n12345\n", 12345, false},
		{"empty", "", 0, true},
		{"not a number", "oops\n", 0, true},
		{"negative", "-1\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := parsePid(tt.stdout)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}
