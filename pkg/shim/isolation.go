package shim

import (
	"os/exec"
	"sync"
)

var (
	isolationOnce      sync.Once
	isolationSupported bool
)

// IsolationSupported reports whether the kernel allows fresh PID and mount
// namespaces with /proc remounted. Detected once per process by attempting
// a no-op unshare; the result is cached for the daemon lifetime.
func IsolationSupported() bool {
	isolationOnce.Do(func() {
		cmd := exec.Command("unshare", "--pid", "--fork", "--mount", "--mount-proc", "true")
		isolationSupported = cmd.Run() == nil
	})
	return isolationSupported
}
