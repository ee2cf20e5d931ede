/*
Package ports tracks exposed in-sandbox ports and reverse-proxies HTTP
traffic to them.

The Registry is the source of truth for which ports are reachable through
the daemon. The Proxy serves /proxy/<port>/<path...>: it strips the
prefix, rewrites the request against 127.0.0.1:<port>, and streams the
response back unchanged. Proxy activity refreshes a port's LastActive
timestamp; an unreachable upstream marks the port inactive, and inactive
ports past the idle threshold are garbage collected by the daemon's
cleanup loop.

Error responses from the proxy itself (bad proxy URL, unregistered port,
unreachable upstream) are JSON bodies distinguishable from upstream
responses by their error field.
*/
package ports
