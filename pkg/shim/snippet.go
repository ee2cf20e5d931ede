package shim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths are the three transport files for one correlation: the command's
// captured stdout and stderr plus the exit-code sentinel.
type Paths struct {
	Stdout string
	Stderr string
	Exit   string
}

// TransportPaths derives the transport file paths for a correlation id.
func TransportPaths(dir, id string) Paths {
	base := filepath.Join(dir, "cmd_"+id)
	return Paths{
		Stdout: base + ".stdout",
		Stderr: base + ".stderr",
		Exit:   base + ".exit",
	}
}

// Remove deletes the transport files, ignoring errors: the janitor sweeps
// anything left behind.
func (p Paths) Remove() {
	os.Remove(p.Stdout)
	os.Remove(p.Stderr)
	os.Remove(p.Exit)
}

// BuildSnippet renders the shell fragment that runs a user command with
// its stdout, stderr and exit code captured into the transport files.
// The exit code is written to a staging file and renamed into place so the
// sentinel never exists half-written. A per-call cwd runs the command in a
// subshell, leaving the session's own working directory untouched.
func BuildSnippet(command, cwd string, p Paths) string {
	var b strings.Builder
	if cwd != "" {
		fmt.Fprintf(&b, "( cd %s && { %s\n} )", Quote(cwd), command)
	} else {
		fmt.Fprintf(&b, "{ %s\n}", command)
	}
	// Stdin comes from /dev/null so an interactive command cannot swallow
	// the next control snippet off the shell's stdin pipe.
	fmt.Fprintf(&b, " < /dev/null > %s 2> %s\n", Quote(p.Stdout), Quote(p.Stderr))
	fmt.Fprintf(&b, "echo $? > %s && mv %s %s\n", Quote(p.Exit+".tmp"), Quote(p.Exit+".tmp"), Quote(p.Exit))
	return b.String()
}

// Quote single-quotes a string for safe interpolation into a shell
// command line.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
