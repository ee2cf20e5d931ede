package interpreter

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Service is the interpreter subsystem: one pool and one circuit breaker
// per configured language, plus the per-language default contexts that
// back contextless executions.
type Service struct {
	cfg       config.InterpreterConfig
	workspace string
	logger    zerolog.Logger

	pools    map[string]*Pool
	breakers map[string]*Breaker

	mu       sync.Mutex
	defaults map[string]string
}

// NewService builds the service. Call Warm (typically in a goroutine) to
// fill the pools; until warming finishes, executions are rejected with a
// not-ready error carrying the warm-up progress.
func NewService(cfg config.InterpreterConfig, workspace string, manager Manager) *Service {
	s := &Service{
		cfg:       cfg,
		workspace: workspace,
		logger:    log.WithComponent("interpreter"),
		pools:     make(map[string]*Pool),
		breakers:  make(map[string]*Breaker),
		defaults:  make(map[string]string),
	}
	for lang, lc := range cfg.Languages {
		s.pools[lang] = NewPool(lang, lc, manager)
		s.breakers[lang] = NewBreaker()
	}
	return s
}

// Warm fills every language pool to its minimum size.
func (s *Service) Warm(ctx context.Context) {
	var wg sync.WaitGroup
	for _, pool := range s.pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Warm(ctx)
		}(pool)
	}
	wg.Wait()
	s.logger.Info().Msg("interpreter pools warmed")
}

// Ready reports whether all pools finished warming, and the aggregate
// warm-up progress in percent.
func (s *Service) Ready() (bool, int) {
	ready := true
	progress := 100
	for _, pool := range s.pools {
		if pool.Warming() {
			ready = false
			if p := pool.Progress(); p < progress {
				progress = p
			}
		}
	}
	if !ready && progress == 100 {
		progress = 0
	}
	return ready, progress
}

// CreateContext acquires a context for the language, preferring a warm
// pooled kernel. An empty language selects the configured default; an
// empty cwd selects the workspace directory. env entries are merged into
// the kernel's process environment.
func (s *Service) CreateContext(ctx context.Context, language, cwd string, env map[string]string) (*types.ContextInfo, error) {
	language = s.resolveLanguage(language)
	pool, ok := s.pools[language]
	if !ok {
		return nil, errdefs.Newf(errdefs.CodeValidationFailed, "unsupported language %q", language)
	}
	if err := s.gate(language); err != nil {
		return nil, err
	}
	if cwd == "" {
		cwd = s.workspace
	}

	c, err := pool.Acquire(ctx, cwd)
	if err != nil {
		return nil, err
	}
	if len(env) > 0 {
		if err := c.kernel.SetEnv(ctx, env); err != nil {
			pool.Release(c)
			return nil, errdefs.Wrap(err, errdefs.CodeExecutionError, "apply context env")
		}
	}
	info := c.Info()
	s.logger.Info().Str("contextId", info.ID).Str("language", language).Msg("context created")
	return &info, nil
}

// ListContexts snapshots every live context across languages, ordered by
// creation time.
func (s *Service) ListContexts() []types.ContextInfo {
	out := make([]types.ContextInfo, 0)
	for _, pool := range s.pools {
		out = append(out, pool.List()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeleteContext releases a context. A pooled kernel returns to its pool's
// warm set; if the context was a language default, the next contextless
// execution creates a fresh default.
func (s *Service) DeleteContext(id string) error {
	for lang, pool := range s.pools {
		c, ok := pool.Get(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.defaults[lang] == id {
			delete(s.defaults, lang)
		}
		s.mu.Unlock()

		pool.Release(c)
		s.logger.Info().Str("contextId", id).Msg("context deleted")
		return nil
	}
	return errdefs.Newf(errdefs.CodeResourceNotFound, "context %s not found", id)
}

// ExecuteCode runs code in a context and returns its event stream. An
// empty contextID routes to the language's default context, created on
// first use; an empty language selects the configured default.
func (s *Service) ExecuteCode(ctx context.Context, code, language, contextID string) (<-chan KernelMessage, error) {
	if code == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "code must not be empty")
	}
	language = s.resolveLanguage(language)
	pool, ok := s.pools[language]
	if !ok {
		return nil, errdefs.Newf(errdefs.CodeValidationFailed, "unsupported language %q", language)
	}
	if err := s.gate(language); err != nil {
		return nil, err
	}

	var c *Context
	if contextID == "" {
		var err error
		c, err = s.defaultContext(ctx, language, pool)
		if err != nil {
			return nil, err
		}
	} else {
		c, ok = pool.Get(contextID)
		if !ok {
			return nil, errdefs.Newf(errdefs.CodeResourceNotFound, "context %s not found", contextID)
		}
	}
	c.touch()

	stream, err := c.kernel.Execute(ctx, code)
	if err != nil {
		s.breakers[language].Failure()
		return nil, err
	}
	return s.observe(language, stream), nil
}

// Shutdown terminates every kernel.
func (s *Service) Shutdown() {
	for _, pool := range s.pools {
		pool.Shutdown()
	}
}

func (s *Service) resolveLanguage(language string) string {
	if language != "" {
		return language
	}
	if s.cfg.DefaultLanguage != "" {
		return s.cfg.DefaultLanguage
	}
	return config.DefaultLanguage
}

// gate rejects executions while the language pool is warming or its
// breaker is open.
func (s *Service) gate(language string) error {
	if pool := s.pools[language]; pool.Warming() {
		return errdefs.Newf(errdefs.CodeInterpreterNotReady,
			"%s interpreter is warming up", language).
			WithContext("progress", pool.Progress()).
			WithContext("retryAfter", 5)
	}
	if breaker := s.breakers[language]; !breaker.Allow() {
		return errdefs.Newf(errdefs.CodeCircuitOpen,
			"%s interpreter is failing, rejecting executions", language).
			WithContext("retryAfter", int(breaker.RetryAfter().Seconds())+1)
	}
	return nil
}

// defaultContext returns the language's default context, creating it at
// most once even under concurrent contextless executions.
func (s *Service) defaultContext(ctx context.Context, language string, pool *Pool) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.defaults[language]; ok {
		if c, live := pool.Get(id); live {
			return c, nil
		}
		delete(s.defaults, language)
	}

	c, err := pool.Acquire(ctx, s.workspace)
	if err != nil {
		return nil, err
	}
	s.defaults[language] = c.Info().ID
	s.logger.Info().Str("contextId", c.Info().ID).Str("language", language).Msg("default context created")
	return c, nil
}

// observe relays a kernel stream while feeding the language breaker:
// kernel death is a failure, a clean execution_complete is a success.
// User-code errors reported by a healthy kernel count as successes.
func (s *Service) observe(language string, in <-chan KernelMessage) <-chan KernelMessage {
	out := make(chan KernelMessage, 64)
	go func() {
		defer close(out)
		completed := false
		for msg := range in {
			if msg.Type == MsgComplete {
				completed = true
			}
			if msg.Type == MsgError && msg.Ename == "KernelTerminated" {
				completed = false
			}
			out <- msg
		}
		if completed {
			s.breakers[language].Success()
		} else {
			s.breakers[language].Failure()
		}
	}()
	return out
}
