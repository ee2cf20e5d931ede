package ports

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Registry exclusively owns the set of exposed ports. Port numbers are
// unique; unexposing removes the entry.
type Registry struct {
	mu     sync.Mutex
	ports  map[int]*types.ExposedPort
	logger zerolog.Logger
}

// NewRegistry creates an empty port registry.
func NewRegistry() *Registry {
	return &Registry{
		ports:  make(map[int]*types.ExposedPort),
		logger: log.WithComponent("ports"),
	}
}

// Expose registers a port for proxying. The port must be in the
// user-addressable range and not already exposed.
func (r *Registry) Expose(port int, name string) (*types.ExposedPort, error) {
	if port < 1 || port > 65535 {
		return nil, errdefs.Newf(errdefs.CodeInvalidPort, "port %d out of range", port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ports[port]; exists {
		return nil, errdefs.Newf(errdefs.CodePortAlreadyExposed, "port %d already exposed", port).
			WithContext("port", port)
	}

	now := time.Now()
	p := &types.ExposedPort{
		Port:       port,
		Name:       name,
		Status:     types.PortActive,
		ExposedAt:  now,
		LastActive: now,
	}
	r.ports[port] = p
	r.logger.Info().Int("port", port).Str("name", name).Msg("port exposed")

	cp := *p
	return &cp, nil
}

// Unexpose removes a port registration.
func (r *Registry) Unexpose(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ports[port]; !exists {
		return errdefs.Newf(errdefs.CodePortNotExposed, "port %d not exposed", port).
			WithContext("port", port)
	}
	delete(r.ports, port)
	r.logger.Info().Int("port", port).Msg("port unexposed")
	return nil
}

// Get returns a port registration.
func (r *Registry) Get(port int) (*types.ExposedPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[port]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// List enumerates exposed ports ordered by port number.
func (r *Registry) List() []types.ExposedPort {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.ExposedPort, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// MarkInactive flags a port whose upstream stopped answering.
func (r *Registry) MarkInactive(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[port]
	if !ok {
		return errdefs.Newf(errdefs.CodePortNotExposed, "port %d not exposed", port)
	}
	p.Status = types.PortInactive
	return nil
}

// Touch records proxy activity on a port and revives an inactive entry.
func (r *Registry) Touch(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.ports[port]; ok {
		p.LastActive = time.Now()
		p.Status = types.PortActive
	}
}

// CleanupInactive deletes inactive entries whose last activity precedes
// the threshold and returns how many were removed.
func (r *Registry) CleanupInactive(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for port, p := range r.ports {
		if p.Status == types.PortInactive && p.LastActive.Before(cutoff) {
			delete(r.ports, port)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("cleaned up inactive ports")
	}
	return removed
}
