package types

import "time"

// ExecResult is the outcome of a synchronous command execution inside a
// session shell.
type ExecResult struct {
	Success    bool      `json:"success"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ExitCode   int       `json:"exitCode"`
	Command    string    `json:"command"`
	DurationMs int64     `json:"duration"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExecEventType identifies one event in a streaming execution.
type ExecEventType string

const (
	ExecEventStart    ExecEventType = "start"
	ExecEventStdout   ExecEventType = "stdout"
	ExecEventStderr   ExecEventType = "stderr"
	ExecEventComplete ExecEventType = "complete"
	ExecEventError    ExecEventType = "error"
)

// ExecEvent is one element of the streaming exec sequence: exactly one
// start, zero or more stdout/stderr chunks in delivery order, then exactly
// one complete or error.
type ExecEvent struct {
	Type     ExecEventType `json:"type"`
	Data     string        `json:"data,omitempty"`
	ExitCode *int          `json:"exitCode,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// ProcessStatus is the lifecycle state of a background process.
// completed, failed, killed and error are terminal.
type ProcessStatus string

const (
	ProcessStarting  ProcessStatus = "starting"
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
	ProcessKilled    ProcessStatus = "killed"
	ProcessError     ProcessStatus = "error"
)

// Terminal reports whether the status is final. Once terminal, captured
// output no longer grows and capture files are scheduled for deletion.
func (s ProcessStatus) Terminal() bool {
	switch s {
	case ProcessCompleted, ProcessFailed, ProcessKilled, ProcessError:
		return true
	}
	return false
}

// ProcessInfo is the externally visible view of a background process.
type ProcessInfo struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	SessionID string        `json:"sessionId"`
	Pid       int           `json:"pid,omitempty"`
	Status    ProcessStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	ExitCode  *int          `json:"exitCode,omitempty"`
}

// ProcessEventType identifies one event in a process log stream.
type ProcessEventType string

const (
	ProcessEventStdout   ProcessEventType = "stdout"
	ProcessEventStderr   ProcessEventType = "stderr"
	ProcessEventComplete ProcessEventType = "complete"
)

// ProcessEvent is one element of a process log stream: initial chunks for
// already-captured text, delta chunks as the monitor observes growth, then
// a terminal complete carrying the final status and exit code.
type ProcessEvent struct {
	Type     ProcessEventType `json:"type"`
	Data     string           `json:"data,omitempty"`
	Status   ProcessStatus    `json:"status,omitempty"`
	ExitCode *int             `json:"exitCode,omitempty"`
}

// PortStatus is the state of an exposed port registration.
type PortStatus string

const (
	PortActive   PortStatus = "active"
	PortInactive PortStatus = "inactive"
)

// ExposedPort is a registry entry for a TCP port the proxy forwards to.
type ExposedPort struct {
	Port       int        `json:"port"`
	Name       string     `json:"name,omitempty"`
	Status     PortStatus `json:"status"`
	ExposedAt  time.Time  `json:"exposedAt"`
	LastActive time.Time  `json:"lastActive"`
}

// ContextInfo is the externally visible view of an interpreter context.
type ContextInfo struct {
	ID        string    `json:"contextId"`
	Language  string    `json:"language"`
	Cwd       string    `json:"cwd"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

// FileEncoding selects how file content travels over the API.
type FileEncoding string

const (
	EncodingUTF8   FileEncoding = "utf-8"
	EncodingBase64 FileEncoding = "base64"
)

// FileOpResult is the normalized outcome of a shell-backed file operation.
type FileOpResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exitCode"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ReadFileResult carries file content plus the sniffed transport metadata.
// Text content travels as utf-8; everything else is base64.
type ReadFileResult struct {
	Success  bool         `json:"success"`
	ExitCode int          `json:"exitCode"`
	Path     string       `json:"path"`
	Content  string       `json:"content"`
	Encoding FileEncoding `json:"encoding"`
	IsBinary bool         `json:"isBinary"`
	MimeType string       `json:"mimeType"`
	Size     int          `json:"size"`
}

// FileChunkEventType identifies one event in a streaming file read.
type FileChunkEventType string

const (
	FileEventChunk    FileChunkEventType = "chunk"
	FileEventComplete FileChunkEventType = "complete"
	FileEventError    FileChunkEventType = "error"
)

// FileChunkEvent is one element of a streaming file read.
type FileChunkEvent struct {
	Type     FileChunkEventType `json:"type"`
	Data     string             `json:"data,omitempty"`
	Encoding FileEncoding       `json:"encoding,omitempty"`
	MimeType string             `json:"mimeType,omitempty"`
	Size     int                `json:"size,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// FileInfo describes one directory entry returned by list-files.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDirectory"`
	ModTime time.Time `json:"modifiedAt"`
}

// GitCheckoutResult is the outcome of a repository clone through a session.
type GitCheckoutResult struct {
	Success   bool   `json:"success"`
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	TargetDir string `json:"targetDir"`
	Output    string `json:"output,omitempty"`
}

// SessionInfo is the externally visible view of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Cwd       string    `json:"cwd"`
	Isolated  bool      `json:"isolated"`
	Ready     bool      `json:"ready"`
	CreatedAt time.Time `json:"createdAt"`
}
