/*
Package session implements named, long-lived shell sessions and the
line-delimited JSON transport to their control children.

Each session is fronted by a control child: the daemon re-execs its own
binary with BURROW_SHIM set, and the child (pkg/shim) hosts one
interactive shell, PID- and mount-namespaced where the kernel allows.
Because the shell is interactive and persistent, working directory and
environment changes survive across commands within a session.

# Wire protocol

Parent and child exchange one JSON object per line over the child's
stdin/stdout; child stderr is logged. Requests carry a correlation id;
replies are matched by id, so the wire itself imposes no ordering beyond
per-message atomicity. A correlation with no reply within the command
timeout is rejected with a timeout error; child exit, graceful or not,
rejects every pending correlation with session terminated and marks the
session not ready.

Command output never travels through shell stdout markers: the shell
captures stdout, stderr and exit code into three transport files named by
the correlation id, and the exit file doubles as the completion sentinel.
Marker parsing cannot safely handle binary output or embedded markers;
file-based transport does.

# Registry

The Registry exclusively owns sessions. Creating a session with an
existing id destroys the old one first; an empty session reference
resolves to a lazily created "default" session. Destroying a session
kills its background processes and its control child.

The filesystem facade (files.go) and git checkout (git.go) are thin
compositions of shell commands inside a session, with base64-through-pipe
transport wherever binary safety matters.
*/
package session
