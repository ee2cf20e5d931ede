package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/interpreter"
	"github.com/cuemby/burrow/pkg/ports"
	"github.com/cuemby/burrow/pkg/session"
)

// scriptedKernel answers every execution with an echo of the code.
type scriptedKernel struct{ alive bool }

func (k *scriptedKernel) Execute(ctx context.Context, code string) (<-chan interpreter.KernelMessage, error) {
	ch := make(chan interpreter.KernelMessage, 2)
	ch <- interpreter.KernelMessage{Type: interpreter.MsgStdout, Data: code}
	ch <- interpreter.KernelMessage{Type: interpreter.MsgComplete}
	close(ch)
	return ch, nil
}

func (k *scriptedKernel) SetCwd(ctx context.Context, cwd string) error { return nil }

func (k *scriptedKernel) SetEnv(ctx context.Context, env map[string]string) error { return nil }
func (k *scriptedKernel) Alive() bool                                             { return k.alive }
func (k *scriptedKernel) Shutdown() error                                         { k.alive = false; return nil }

type scriptedManager struct{}

func (m *scriptedManager) Start(ctx context.Context, language string) (interpreter.Kernel, error) {
	return &scriptedKernel{alive: true}, nil
}

func testServer(t *testing.T, warm bool) *Server {
	t.Helper()
	cfg := config.FromEnv()
	interp := interpreter.NewService(cfg.Interpreter, cfg.WorkspaceDir, &scriptedManager{})
	if warm {
		interp.Warm(context.Background())
	}
	return NewServer(cfg, session.NewRegistry(cfg), ports.NewRegistry(), interp)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodGet, "/api/ping", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pong", body["message"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestVersion(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodGet, "/api/version", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "sandboxVersion")
}

func TestCommandsListsSurface(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodGet, "/api/commands", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Commands, "POST /api/execute")
	assert.Contains(t, body.Commands, "GET /api/exposed-ports")
}

func TestShutdownSignals(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodPost, "/api/shutdown", "")
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-s.ShutdownRequested():
	default:
		t.Fatal("shutdown channel not closed")
	}

	// Idempotent.
	rec = doJSON(t, s.routes(), http.MethodPost, "/api/shutdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExposeAndListPorts(t *testing.T) {
	s := testServer(t, true)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/api/expose-port", `{"port":3000,"name":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/exposed-ports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
		Ports []struct {
			Port int    `json:"port"`
			Name string `json:"name"`
		} `json:"ports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, 3000, body.Ports[0].Port)
	assert.Equal(t, "web", body.Ports[0].Name)
}

func TestExposeDuplicateConflict(t *testing.T) {
	s := testServer(t, true)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/api/expose-port", `{"port":3000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/expose-port", `{"port":3000}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, errdefs.CodePortAlreadyExposed, envelope.Code)
	assert.Equal(t, http.StatusConflict, envelope.HTTPStatus)
}

func TestUnexposePortByPath(t *testing.T) {
	s := testServer(t, true)
	h := s.routes()

	doJSON(t, h, http.MethodPost, "/api/expose-port", `{"port":8080}`)

	rec := doJSON(t, h, http.MethodDelete, "/api/exposed-ports/8080", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/exposed-ports/8080", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnexposePortAcceptsDelete(t *testing.T) {
	s := testServer(t, true)
	h := s.routes()

	doJSON(t, h, http.MethodPost, "/api/expose-port", `{"port":8081}`)

	rec := doJSON(t, h, http.MethodDelete, "/api/unexpose-port", `{"port":8081}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/unexpose-port", `{"port":8081}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidPortRejected(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodPost, "/api/expose-port", `{"port":99999}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, errdefs.CodeInvalidPort, envelope.Code)
}

func TestContextCreateWhileWarming(t *testing.T) {
	s := testServer(t, false)
	rec := doJSON(t, s.routes(), http.MethodPost, "/api/contexts", `{"language":"python"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, errdefs.CodeInterpreterNotReady, envelope.Code)
	assert.Contains(t, envelope.Context, "progress")
}

func TestContextLifecycle(t *testing.T) {
	s := testServer(t, true)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/api/contexts", `{"language":"python"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ContextID string `json:"contextId"`
		Language  string `json:"language"`
		Cwd       string `json:"cwd"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "python", created.Language)
	assert.Equal(t, "/workspace", created.Cwd)
	require.NotEmpty(t, created.ContextID)

	rec = doJSON(t, h, http.MethodGet, "/api/contexts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = doJSON(t, h, http.MethodDelete, "/api/contexts/"+created.ContextID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/contexts/"+created.ContextID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteCodeStreams(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodPost, "/api/execute/code", `{"code":"print(1)"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, lines, 2)

	var first interpreter.KernelMessage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "data: ")), &first))
	assert.Equal(t, interpreter.MsgStdout, first.Type)
	assert.Equal(t, "print(1)", first.Data)

	var last interpreter.KernelMessage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &last))
	assert.Equal(t, interpreter.MsgComplete, last.Type)
}

func TestExecuteEmptyCommandRejected(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodPost, "/api/execute", `{"command":"  "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, errdefs.CodeInvalidCommand, envelope.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodPost, "/api/expose-port", `{not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, errdefs.CodeValidationFailed, envelope.Code)
}

func TestProxyRoutedThroughServer(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.routes(), http.MethodGet, "/proxy/3000/index.html", "")

	// Not exposed: proxy answers with its own 404 body.
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PORT_NOT_EXPOSED", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	s := testServer(t, true)
	rec := doJSON(t, s.cors(s.routes()), http.MethodOptions, "/api/execute", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWrapEnv(t *testing.T) {
	assert.Equal(t, "echo hi", wrapEnv(nil, "echo hi"))

	wrapped := wrapEnv(map[string]string{"B": "2", "A": "it's"}, "echo hi")
	assert.Equal(t, `( export A='it'\''s'; export B='2'; echo hi )`, wrapped)
}
