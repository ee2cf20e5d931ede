package session

import (
	"context"
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/process"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

// TestMain doubles as the control-child entrypoint: sessions re-exec the
// test binary, and the shim flag routes the child into the control loop
// instead of the test runner.
func TestMain(m *testing.M) {
	if os.Getenv(shim.EnvFlag) == "1" {
		shim.New().Run()
		return
	}
	os.Exit(m.Run())
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := &config.Config{
		CommandTimeout:  10 * time.Second,
		CleanupInterval: time.Minute,
		TempFileMaxAge:  time.Hour,
		TempDir:         t.TempDir(),
		WorkspaceDir:    t.TempDir(),
	}
	r := NewRegistry(cfg)
	t.Cleanup(r.DestroyAll)
	return r
}

func createSession(t *testing.T, r *Registry, opts CreateOptions) *Session {
	t.Helper()
	sess, err := r.Create(context.Background(), opts)
	require.NoError(t, err)
	return sess
}

func TestExecHappyPath(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "exec"})

	res, err := sess.Exec(context.Background(), "echo hello", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, "echo hello", res.Command)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))
}

func TestExecNonZeroExit(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "exit"})

	res, err := sess.Exec(context.Background(), "ls /definitely/not/a/path", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
}

func TestExecStatePersists(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "state"})

	_, err := sess.Exec(context.Background(), "cd /tmp && export MARKER=alive", "")
	require.NoError(t, err)

	res, err := sess.Exec(context.Background(), "pwd; echo $MARKER", "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp\nalive\n", res.Stdout)
}

func TestExecCwdOverrideDoesNotStick(t *testing.T) {
	r := testRegistry(t)
	home := t.TempDir()
	other := t.TempDir()
	sess := createSession(t, r, CreateOptions{ID: "cwd", Cwd: home})

	res, err := sess.Exec(context.Background(), "pwd", other)
	require.NoError(t, err)
	assert.Equal(t, other+"\n", res.Stdout)

	res, err = sess.Exec(context.Background(), "pwd", "")
	require.NoError(t, err)
	assert.Equal(t, home+"\n", res.Stdout)
}

func TestExecRelativeCwdRejected(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "relcwd"})

	_, err := sess.Exec(context.Background(), "pwd", "not/absolute")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeValidationFailed, errdefs.GetCode(err))
}

func TestSessionEnvApplied(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{
		ID:  "env",
		Env: map[string]string{"GREETING": "hi there"},
	})

	res, err := sess.Exec(context.Background(), "echo $GREETING", "")
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", res.Stdout)
}

func TestExecBinaryOutput(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "binary"})

	// Output containing NUL and newlines must survive the transport.
	res, err := sess.Exec(context.Background(), `printf 'a\0b\nc'`, "")
	require.NoError(t, err)
	assert.Equal(t, "a\x00b\nc", res.Stdout)
}

func TestExecStreamOrdering(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "stream"})

	events, err := sess.ExecStream(context.Background(), "printf one; printf two 1>&2", "")
	require.NoError(t, err)

	var got []types.ExecEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				goto done
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
done:
	require.NotEmpty(t, got)
	assert.Equal(t, types.ExecEventStart, got[0].Type)

	last := got[len(got)-1]
	require.Equal(t, types.ExecEventComplete, last.Type)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 0, *last.ExitCode)

	var stdout, stderr string
	for _, ev := range got[1 : len(got)-1] {
		switch ev.Type {
		case types.ExecEventStdout:
			stdout += ev.Data
		case types.ExecEventStderr:
			stderr += ev.Data
		}
	}
	assert.Equal(t, "one", stdout)
	assert.Equal(t, "two", stderr)
}

func TestStreamDetachWithBackedUpEvents(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "detach"})

	// Produce far more events than the stream buffer holds and never
	// consume them, then detach mid-flight.
	ctx, cancel := context.WithCancel(context.Background())
	events, err := sess.ExecStream(ctx, "for i in $(seq 1 2000); do echo line $i; done", "")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, types.ExecEventStart, ev.Type)
	cancel()

	// The detach must not take the session down: the wire keeps serving
	// while the child is still flooding events for the dropped stream.
	for i := 0; i < 10; i++ {
		res, err := sess.Exec(context.Background(), "echo still alive", "")
		require.NoError(t, err)
		require.Equal(t, "still alive\n", res.Stdout)
		time.Sleep(50 * time.Millisecond)
	}
	assert.True(t, sess.Info().Ready)
}

func TestFileRoundTripText(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "files"})
	path := t.TempDir() + "/notes/hello.txt"

	res, err := sess.WriteFile(context.Background(), path, "it's text\n", "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	read, err := sess.ReadFile(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "it's text\n", read.Content)
	assert.Equal(t, types.EncodingUTF8, read.Encoding)
	assert.False(t, read.IsBinary)
	assert.Equal(t, 10, read.Size)
}

func TestFileRoundTripBinary(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "files-bin"})
	path := t.TempDir() + "/blob.bin"

	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	_, err := sess.WriteFile(context.Background(), path, encoded, types.EncodingBase64)
	require.NoError(t, err)

	read, err := sess.ReadFile(context.Background(), path, "")
	require.NoError(t, err)
	assert.True(t, read.IsBinary)
	assert.Equal(t, types.EncodingBase64, read.Encoding)

	decoded, err := base64.StdEncoding.DecodeString(read.Content)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestFileNotFound(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "files-404"})

	_, err := sess.ReadFile(context.Background(), "/definitely/not/here.txt", "")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeFileNotFound, errdefs.GetCode(err))
}

func TestListFiles(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "list"})
	dir := t.TempDir()

	ctx := context.Background()
	_, err := sess.WriteFile(ctx, dir+"/a.txt", "a", "")
	require.NoError(t, err)
	_, err = sess.WriteFile(ctx, dir+"/.hidden", "h", "")
	require.NoError(t, err)
	_, err = sess.Mkdir(ctx, dir+"/sub", false)
	require.NoError(t, err)
	_, err = sess.WriteFile(ctx, dir+"/sub/b.txt", "b", "")
	require.NoError(t, err)

	files, err := sess.ListFiles(ctx, dir, ListOptions{})
	require.NoError(t, err)
	names := fileNames(files)
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, names)

	files, err = sess.ListFiles(ctx, dir, ListOptions{Recursive: true, IncludeHidden: true})
	require.NoError(t, err)
	names = fileNames(files)
	assert.ElementsMatch(t, []string{"a.txt", ".hidden", "sub", "b.txt"}, names)
}

func TestRenameAndMoveAndDelete(t *testing.T) {
	r := testRegistry(t)
	sess := createSession(t, r, CreateOptions{ID: "mv"})
	dir := t.TempDir()
	ctx := context.Background()

	_, err := sess.WriteFile(ctx, dir+"/one.txt", "1", "")
	require.NoError(t, err)

	_, err = sess.RenameFile(ctx, dir+"/one.txt", dir+"/two.txt")
	require.NoError(t, err)

	_, err = sess.MoveFile(ctx, dir+"/two.txt", dir+"/deep/nested/three.txt")
	require.NoError(t, err)

	read, err := sess.ReadFile(ctx, dir+"/deep/nested/three.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "1", read.Content)

	_, err = sess.DeleteFile(ctx, dir+"/deep")
	require.NoError(t, err)

	_, err = sess.ReadFile(ctx, dir+"/deep/nested/three.txt", "")
	require.Error(t, err)
}

func fileNames(files []types.FileInfo) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func TestRegistryDefaultLazy(t *testing.T) {
	r := testRegistry(t)

	sess, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionID, sess.ID())

	again, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, sess, again)
}

func TestCreateReplacesExisting(t *testing.T) {
	r := testRegistry(t)

	first := createSession(t, r, CreateOptions{ID: "dup"})
	_, err := first.Exec(context.Background(), "export X=1", "")
	require.NoError(t, err)

	second := createSession(t, r, CreateOptions{ID: "dup"})
	require.NotSame(t, first, second)

	// The replacement starts from a fresh shell.
	res, err := second.Exec(context.Background(), "echo ${X:-empty}", "")
	require.NoError(t, err)
	assert.Equal(t, "empty\n", res.Stdout)
}

func TestDestroy(t *testing.T) {
	r := testRegistry(t)
	createSession(t, r, CreateOptions{ID: "doomed"})

	require.NoError(t, r.Destroy("doomed"))

	_, err := r.Get("doomed")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeResourceNotFound, errdefs.GetCode(err))

	err = r.Destroy("doomed")
	require.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	r := testRegistry(t)
	createSession(t, r, CreateOptions{ID: "b"})
	createSession(t, r, CreateOptions{ID: "a"})

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "b", infos[1].ID)
	assert.True(t, infos[0].Ready)
}

func TestFindProcessAcrossSessions(t *testing.T) {
	r := testRegistry(t)
	first := createSession(t, r, CreateOptions{ID: "one"})
	createSession(t, r, CreateOptions{ID: "two"})

	proc, err := first.Processes().Start(context.Background(), "sleep 5", process.StartOptions{})
	require.NoError(t, err)

	found, owner, err := r.FindProcess(proc.ID)
	require.NoError(t, err)
	assert.Equal(t, proc.ID, found.ID)
	assert.Equal(t, "one", owner.ID())

	_, _, err = r.FindProcess("proc_missing")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeResourceNotFound, errdefs.GetCode(err))
}
