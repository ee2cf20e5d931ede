package ports

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
)

// Proxy forwards /proxy/<port>/<rest...> requests to the corresponding
// exposed port on loopback, preserving method, headers, query and body in
// both directions.
type Proxy struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewProxy creates a reverse proxy over the port registry.
func NewProxy(registry *Registry) *Proxy {
	return &Proxy{
		registry: registry,
		logger:   log.WithComponent("proxy"),
	}
}

// ServeHTTP handles one proxied request.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	port, rest, err := parseProxyPath(r.URL.Path)
	if err != nil {
		p.logger.Warn().Str("path", r.URL.Path).Err(err).Msg("invalid proxy url")
		writeProxyError(w, http.StatusInternalServerError, "INVALID_PROXY_URL", err.Error(), 0)
		return
	}

	if _, ok := p.registry.Get(port); !ok {
		writeProxyError(w, http.StatusNotFound, "PORT_NOT_EXPOSED",
			fmt.Sprintf("port %d is not exposed", port), port)
		return
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.URL.Path = rest
		req.URL.RawQuery = r.URL.RawQuery
		req.Host = target.Host
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Forwarded-Host", r.Host)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn().Int("port", port).Err(err).Msg("upstream unreachable")
		p.registry.MarkInactive(port)
		writeProxyError(w, http.StatusBadGateway, "UPSTREAM_UNREACHABLE",
			fmt.Sprintf("upstream on port %d is not reachable", port), port)
	}

	p.registry.Touch(port)
	proxy.ServeHTTP(w, r)
}

// parseProxyPath splits /proxy/<port>/<rest...> into the target port and
// the upstream path. A missing or non-numeric port is a malformed proxy
// URL.
func parseProxyPath(path string) (int, string, error) {
	trimmed := strings.TrimPrefix(path, "/proxy")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return 0, "", fmt.Errorf("no port in proxy path")
	}

	portPart := trimmed
	rest := "/"
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		portPart = trimmed[:i]
		rest = trimmed[i:]
	}

	port, err := strconv.Atoi(portPart)
	if err != nil || port < 1 || port > 65535 {
		return 0, "", fmt.Errorf("invalid port %q in proxy path", portPart)
	}
	return port, rest, nil
}

func writeProxyError(w http.ResponseWriter, status int, code, message string, port int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     code,
		"message":   message,
		"port":      port,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
