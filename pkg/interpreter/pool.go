package interpreter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Context is one interpreter context: a kernel plus its metadata. State
// accumulated by executed code (variables, imports) lives in the kernel
// process and survives across executions on the same context.
type Context struct {
	mu     sync.Mutex
	info   types.ContextInfo
	kernel Kernel
}

// Info returns a snapshot of the context metadata.
func (c *Context) Info() types.ContextInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Context) touch() {
	c.mu.Lock()
	c.info.LastUsed = time.Now()
	c.mu.Unlock()
}

// Pool keeps warm kernels for one language. Warm kernels in available are
// handed out by Acquire; in-use contexts come back through Release. The
// pool never holds more than MaxPoolSize kernels across both sets.
type Pool struct {
	language string
	cfg      config.LanguageConfig
	manager  Manager
	logger   zerolog.Logger

	mu        sync.Mutex
	available []*Context
	inUse     map[string]*Context
	launching int
	refilling bool
	warming   bool
	warmed    int
}

// NewPool creates a pool for one language. Call Warm to fill it.
func NewPool(language string, cfg config.LanguageConfig, manager Manager) *Pool {
	return &Pool{
		language: language,
		cfg:      cfg,
		manager:  manager,
		logger:   log.WithComponent("pool").With().Str("language", language).Logger(),
		inUse:    make(map[string]*Context),
		warming:  cfg.MinPoolSize > 0,
	}
}

// Warm fills the pool to its minimum size. Kernel launches that fail are
// logged and skipped so one broken language cannot wedge startup; the
// warming flag clears regardless.
func (p *Pool) Warm(ctx context.Context) {
	for i := 0; i < p.cfg.MinPoolSize; i++ {
		kernel, err := p.manager.Start(ctx, p.language)
		if err != nil {
			p.logger.Warn().Err(err).Msg("warm kernel launch failed")
			continue
		}
		c := p.newContext(kernel, "")
		p.mu.Lock()
		p.available = append(p.available, c)
		p.warmed++
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.warming = false
	warmed := p.warmed
	p.mu.Unlock()
	p.logger.Info().Int("warmed", warmed).Int("min", p.cfg.MinPoolSize).Msg("pool warmed")
}

// Warming reports whether the initial fill is still running.
func (p *Pool) Warming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warming
}

// Progress reports warm-up completion in percent.
func (p *Pool) Progress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.warming || p.cfg.MinPoolSize == 0 {
		return 100
	}
	return p.warmed * 100 / p.cfg.MinPoolSize
}

// Acquire hands out a context: a warm one when available, a freshly
// launched one while under the size cap, otherwise pool exhausted.
// Handing out a warm kernel schedules a background refill toward the
// minimum.
func (p *Pool) Acquire(ctx context.Context, cwd string) (*Context, error) {
	p.mu.Lock()
	if n := len(p.available); n > 0 {
		c := p.available[n-1]
		p.available = p.available[:n-1]
		p.inUse[c.info.ID] = c
		p.mu.Unlock()
		p.maybeRefill()

		if cwd != "" && cwd != c.info.Cwd {
			if err := c.kernel.SetCwd(ctx, cwd); err != nil {
				p.discard(c)
				return nil, err
			}
			c.mu.Lock()
			c.info.Cwd = cwd
			c.mu.Unlock()
		}
		c.touch()
		return c, nil
	}

	// Reserve the slot before launching so concurrent acquires cannot
	// both slip under the cap.
	if p.cfg.MaxPoolSize > 0 && p.total() >= p.cfg.MaxPoolSize {
		p.mu.Unlock()
		return nil, errdefs.Newf(errdefs.CodePoolExhausted,
			"no %s contexts available, limit %d reached", p.language, p.cfg.MaxPoolSize).
			WithContext("language", p.language).
			WithContext("maxPoolSize", p.cfg.MaxPoolSize)
	}
	p.launching++
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		p.launching--
		p.mu.Unlock()
	}

	kernel, err := p.manager.Start(ctx, p.language)
	if err != nil {
		release()
		return nil, err
	}
	c := p.newContext(kernel, cwd)
	if cwd != "" {
		if err := kernel.SetCwd(ctx, cwd); err != nil {
			release()
			_ = kernel.Shutdown()
			return nil, err
		}
	}

	p.mu.Lock()
	p.launching--
	p.inUse[c.info.ID] = c
	p.mu.Unlock()
	return c, nil
}

// total counts every kernel the pool is responsible for, reserved
// launches included. Callers hold p.mu.
func (p *Pool) total() int {
	return len(p.available) + len(p.inUse) + p.launching
}

// maybeRefill tops the warm set back up to the minimum in the
// background. At most one refill runs at a time; launch failures end the
// round and the next acquisition schedules a fresh one.
func (p *Pool) maybeRefill() {
	p.mu.Lock()
	if p.refilling || p.warming || len(p.available) >= p.cfg.MinPoolSize ||
		(p.cfg.MaxPoolSize > 0 && p.total() >= p.cfg.MaxPoolSize) {
		p.mu.Unlock()
		return
	}
	p.refilling = true
	p.launching++
	p.mu.Unlock()

	go func() {
		for {
			kernel, err := p.manager.Start(context.Background(), p.language)
			if err != nil {
				p.logger.Warn().Err(err).Msg("refill kernel launch failed")
				p.mu.Lock()
				p.launching--
				p.refilling = false
				p.mu.Unlock()
				return
			}

			p.mu.Lock()
			p.launching--
			p.available = append(p.available, p.newContext(kernel, ""))
			again := len(p.available) < p.cfg.MinPoolSize &&
				(p.cfg.MaxPoolSize == 0 || p.total() < p.cfg.MaxPoolSize)
			if again {
				p.launching++
			} else {
				p.refilling = false
			}
			p.mu.Unlock()
			if !again {
				return
			}
		}
	}()
}

// Release returns a context to the pool. A dead kernel, or one the pool
// has no room for, is shut down instead.
func (p *Pool) Release(c *Context) {
	p.mu.Lock()
	delete(p.inUse, c.info.ID)
	room := len(p.available) < p.cfg.MinPoolSize
	p.mu.Unlock()

	if !c.kernel.Alive() || !room {
		_ = c.kernel.Shutdown()
		return
	}

	p.mu.Lock()
	p.available = append(p.available, c)
	p.mu.Unlock()
}

// Get looks up an in-use context by id.
func (p *Pool) Get(id string) (*Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.inUse[id]
	return c, ok
}

// List snapshots the in-use contexts.
func (p *Pool) List() []types.ContextInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ContextInfo, 0, len(p.inUse))
	for _, c := range p.inUse {
		out = append(out, c.Info())
	}
	return out
}

// Shutdown terminates every kernel the pool owns.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	all := make([]*Context, 0, len(p.available)+len(p.inUse))
	all = append(all, p.available...)
	for _, c := range p.inUse {
		all = append(all, c)
	}
	p.available = nil
	p.inUse = make(map[string]*Context)
	p.mu.Unlock()

	for _, c := range all {
		_ = c.kernel.Shutdown()
	}
}

func (p *Pool) newContext(kernel Kernel, cwd string) *Context {
	now := time.Now()
	return &Context{
		info: types.ContextInfo{
			ID:        "ctx_" + uuid.New().String()[:8],
			Language:  p.language,
			Cwd:       cwd,
			CreatedAt: now,
			LastUsed:  now,
		},
		kernel: kernel,
	}
}

func (p *Pool) discard(c *Context) {
	p.mu.Lock()
	delete(p.inUse, c.info.ID)
	p.mu.Unlock()
	_ = c.kernel.Shutdown()
}
