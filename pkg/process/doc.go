/*
Package process supervises detached background processes launched through
a session shell.

A process starts as one shell line: nohup wraps a subshell that runs the
user command, records its exit code, and redirects stdout/stderr into
capture files under the temp dir; the shell echoes the spawned pid back.
The supervisor keeps an in-memory record per process and settles it
lazily: every read path (get, list, logs, stream, kill) first probes
liveness with a zero-signal kill, and a dead pid transitions the record
to completed or failed using the recorded exit code. Terminal transitions
are one-way and notify status subscribers exactly once.

# Log streaming

Stream subscribers receive the already-captured text first, then deltas
as a 100 ms monitor observes the capture files growing, then one terminal
complete event. Cached text grows monotonically, so the concatenation of
deltas delivered to a subscriber always equals a prefix of the final
captured output. The monitor runs only while subscribers exist; when the
last one cancels, polling stops.

# Cleanup

Once a record is terminal its capture files are scheduled for deletion
(shortly deferred so a late log read still sees final output). Files that
escape this path are reclaimed by the control-child janitor sweeping the
temp dir by age.
*/
package process
