package session

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/process"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultSessionID is the implicit session used when a request names none.
const DefaultSessionID = "default"

// CreateOptions configure a new session.
type CreateOptions struct {
	ID        string
	Cwd       string
	Env       map[string]string
	Isolation bool
}

// Registry exclusively owns sessions: creation, lookup, destruction, and
// the lazily created default session.
type Registry struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   log.WithComponent("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create starts a session, destroying any pre-existing session with the
// same id first. The call returns only once the control child is ready,
// so listed sessions are never half-initialized.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if opts.ID == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "session id must not be empty")
	}
	if opts.Cwd != "" && !filepath.IsAbs(opts.Cwd) {
		return nil, errdefs.Newf(errdefs.CodeValidationFailed, "cwd must be absolute, got %q", opts.Cwd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(ctx, opts)
}

func (r *Registry) createLocked(ctx context.Context, opts CreateOptions) (*Session, error) {
	if existing, ok := r.sessions[opts.ID]; ok {
		delete(r.sessions, opts.ID)
		_ = existing.Close()
	}

	if opts.Isolation && !shim.IsolationSupported() {
		if r.cfg.IsolationRequired {
			return nil, errdefs.New(errdefs.CodeValidationFailed,
				"isolation requested but namespaces are unavailable on this kernel")
		}
		r.logger.Info().Str("session_id", opts.ID).
			Msg("isolation requested but not available, session will run without namespaces")
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = r.cfg.WorkspaceDir
	}

	transport, err := StartTransport(TransportConfig{
		SessionID:       opts.ID,
		Cwd:             cwd,
		Isolated:        opts.Isolation,
		CommandTimeout:  r.cfg.CommandTimeout,
		CleanupInterval: r.cfg.CleanupInterval,
		TempFileMaxAge:  r.cfg.TempFileMaxAge,
		TempDir:         r.cfg.TempDir,
	})
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.CodeUnknown, "start control process")
	}

	readyCtx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()
	if err := transport.WaitReady(readyCtx); err != nil {
		_ = transport.Close()
		return nil, err
	}

	sess := &Session{
		id:        opts.ID,
		cwd:       cwd,
		env:       opts.Env,
		isolated:  opts.Isolation,
		createdAt: time.Now(),
		transport: transport,
		logger:    newSessionLogger(opts.ID),
	}
	sess.super = process.NewSupervisor(opts.ID, sess, r.cfg.TempDir)

	if err := sess.applyEnv(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}

	r.sessions[opts.ID] = sess
	r.logger.Info().Str("session_id", opts.ID).Bool("isolation", opts.Isolation).Msg("session created")
	return sess, nil
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, errdefs.Newf(errdefs.CodeResourceNotFound, "session %q not found", id)
	}
	return sess, nil
}

// Resolve returns the named session, or the lazily created default
// session when id is empty.
func (r *Registry) Resolve(ctx context.Context, id string) (*Session, error) {
	if id == "" || id == DefaultSessionID {
		return r.Default(ctx)
	}
	return r.Get(id)
}

// Default returns the default session, creating it on first use.
func (r *Registry) Default(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[DefaultSessionID]; ok {
		return sess, nil
	}
	return r.createLocked(ctx, CreateOptions{ID: DefaultSessionID})
}

// List returns the info of every session, ordered by id.
func (r *Registry) List() []types.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]types.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Destroy removes a session, killing its child processes.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return errdefs.Newf(errdefs.CodeResourceNotFound, "session %q not found", id)
	}
	return sess.Close()
}

// DestroyAll tears down every session; used at daemon shutdown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

// FindProcess locates a background process across sessions, iterating in
// session id order, and returns its info together with the owning session.
func (r *Registry) FindProcess(id string) (*types.ProcessInfo, *Session, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	sessions := make([]*Session, 0, len(ids))
	for _, sid := range ids {
		sessions = append(sessions, r.sessions[sid])
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		if info, err := sess.Processes().Get(id); err == nil {
			return info, sess, nil
		}
	}
	return nil, nil, errdefs.Newf(errdefs.CodeResourceNotFound, "process %q not found", id)
}
