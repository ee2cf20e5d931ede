/*
Package types defines the core data structures used throughout Burrow.

This package contains the fundamental types of the sandbox control plane:
command execution results and streaming events, background process state,
exposed port registrations, interpreter context views, and the file
operation result records returned by the filesystem facade. All other
packages depend on types; types depends on nothing but the standard
library.

# Core Types

Command execution:
  - ExecResult: stdout/stderr/exit code of one synchronous command
  - ExecEvent: one element of a streaming execution (start, stdout,
    stderr, complete, error)

Background processes:
  - ProcessInfo: identifier, pid, status, timestamps, exit code
  - ProcessStatus: starting, running, completed, failed, killed, error
  - ProcessEvent: one element of a process log stream

Networking:
  - ExposedPort: a registered loopback port the reverse proxy forwards to

Interpreter:
  - ContextInfo: a language-kernel conversation handle

Filesystem:
  - FileOpResult, ReadFileResult, FileChunkEvent, FileInfo

All event sequence types share the same shape contract: a stream yields
zero or more data events in emission order followed by exactly one
terminal event, after which the stream is closed.
*/
package types
