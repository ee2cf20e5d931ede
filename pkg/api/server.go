package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/interpreter"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/ports"
	"github.com/cuemby/burrow/pkg/session"
)

// Server is the HTTP surface of the daemon: the /api JSON endpoints, the
// SSE streams, the /proxy prefix, and /metrics.
type Server struct {
	cfg      *config.Config
	sessions *session.Registry
	ports    *ports.Registry
	proxy    *ports.Proxy
	interp   *interpreter.Service
	logger   zerolog.Logger

	httpServer   *http.Server
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, sessions *session.Registry, portRegistry *ports.Registry, interp *interpreter.Service) *Server {
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		ports:      portRegistry,
		proxy:      ports.NewProxy(portRegistry),
		interp:     interp,
		logger:     log.WithComponent("api"),
		shutdownCh: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.cors(s.instrument(s.routes())),
		// Streaming endpoints hold connections open indefinitely, so no
		// blanket write timeout; reads are bounded.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Sessions and command execution
	mux.HandleFunc("POST /api/session/create", s.handleSessionCreate)
	mux.HandleFunc("GET /api/session/list", s.handleSessionList)
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/execute/stream", s.handleExecuteStream)
	mux.HandleFunc("POST /api/git/checkout", s.handleGitCheckout)

	// Filesystem facade
	mux.HandleFunc("POST /api/mkdir", s.handleMkdir)
	mux.HandleFunc("POST /api/write", s.handleWrite)
	mux.HandleFunc("POST /api/read", s.handleRead)
	mux.HandleFunc("POST /api/read/stream", s.handleReadStream)
	mux.HandleFunc("POST /api/delete", s.handleDelete)
	mux.HandleFunc("POST /api/rename", s.handleRename)
	mux.HandleFunc("POST /api/move", s.handleMove)
	mux.HandleFunc("POST /api/list-files", s.handleListFiles)

	// Port exposure
	mux.HandleFunc("POST /api/expose-port", s.handleExposePort)
	mux.HandleFunc("POST /api/unexpose-port", s.handleUnexposePort)
	mux.HandleFunc("DELETE /api/unexpose-port", s.handleUnexposePort)
	mux.HandleFunc("GET /api/exposed-ports", s.handleListPorts)
	mux.HandleFunc("DELETE /api/exposed-ports/{port}", s.handleUnexposePortPath)

	// Background processes
	mux.HandleFunc("POST /api/process/start", s.handleProcessStart)
	mux.HandleFunc("GET /api/process/list", s.handleProcessList)
	mux.HandleFunc("GET /api/process/{id}", s.handleProcessGet)
	mux.HandleFunc("DELETE /api/process/{id}", s.handleProcessKill)
	mux.HandleFunc("GET /api/process/{id}/logs", s.handleProcessLogs)
	mux.HandleFunc("GET /api/process/{id}/stream", s.handleProcessStream)
	mux.HandleFunc("DELETE /api/process/kill-all", s.handleProcessKillAll)

	// Interpreter contexts
	mux.HandleFunc("POST /api/contexts", s.handleContextCreate)
	mux.HandleFunc("GET /api/contexts", s.handleContextList)
	mux.HandleFunc("DELETE /api/contexts/{id}", s.handleContextDelete)
	mux.HandleFunc("POST /api/execute/code", s.handleExecuteCode)

	// Reverse proxy to exposed ports
	mux.Handle("/proxy/", s.countProxy(s.proxy))

	// Operational endpoints
	mux.HandleFunc("GET /api/health", metrics.HealthHandler())
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("GET /api/commands", s.handleCommands)
	mux.HandleFunc("POST /api/shutdown", s.handleShutdown)
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ShutdownRequested is closed when a client calls /api/shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}
