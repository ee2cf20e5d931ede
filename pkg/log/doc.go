/*
Package log provides structured logging for Burrow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initialize once at daemon startup, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("session")
	logger.Info().Str("session_id", id).Msg("session created")

Child logger constructors exist for the identifiers that recur throughout the
daemon: WithSessionID, WithProcessID, and WithContextID. Logs default to
stderr so the control-process stdio protocol on stdout stays clean.

# Log Levels

  - debug: Verbose diagnostics (wire messages, shell snippets, poll ticks)
  - info: Normal operational events (session created, port exposed)
  - warn: Degraded but recoverable conditions (isolation unavailable)
  - error: Operation failures that surface to the caller
*/
package log
