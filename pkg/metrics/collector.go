package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/interpreter"
	"github.com/cuemby/burrow/pkg/ports"
	"github.com/cuemby/burrow/pkg/session"
)

// Collector collects gauge metrics from the daemon registries
type Collector struct {
	sessions *session.Registry
	ports    *ports.Registry
	interp   *interpreter.Service
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(sessions *session.Registry, portRegistry *ports.Registry, interp *interpreter.Service) *Collector {
	return &Collector{
		sessions: sessions,
		ports:    portRegistry,
		interp:   interp,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSessionMetrics()
	c.collectPortMetrics()
	c.collectContextMetrics()
}

func (c *Collector) collectSessionMetrics() {
	infos := c.sessions.List()
	SessionsTotal.Set(float64(len(infos)))

	statusCounts := make(map[string]int)
	for _, info := range infos {
		sess, err := c.sessions.Get(info.ID)
		if err != nil {
			continue
		}
		for _, proc := range sess.Processes().List() {
			statusCounts[string(proc.Status)]++
		}
	}

	ProcessesTotal.Reset()
	for status, count := range statusCounts {
		ProcessesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectPortMetrics() {
	ExposedPortsTotal.Set(float64(len(c.ports.List())))
}

func (c *Collector) collectContextMetrics() {
	languageCounts := make(map[string]int)
	for _, ctx := range c.interp.ListContexts() {
		languageCounts[ctx.Language]++
	}

	ContextsTotal.Reset()
	for language, count := range languageCounts {
		ContextsTotal.WithLabelValues(language).Set(float64(count))
	}
}
