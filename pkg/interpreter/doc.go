/*
Package interpreter manages pooled interpreter kernels and streams code
execution results.

# Architecture

	Service
	  ├── Pool (per language)      warm kernels, size-capped acquisition
	  │     └── Context            kernel + metadata, holds user state
	  ├── Breaker (per language)   trips on consecutive kernel failures
	  └── defaults                 language → context id for contextless runs

A kernel is a child interpreter process spoken to over line-delimited
JSON on stdin/stdout. Executions are correlated by id, so one kernel can
in principle interleave replies; in practice a context serializes its
callers. Variables and imports defined by executed code live in the
kernel process, which is what makes a context stateful.

Pools are warmed at startup. Until a language's pool reaches its minimum
size, executions for that language are rejected with a not-ready error
carrying the warm-up progress; callers are expected to retry. A run of
consecutive kernel-level failures (process death, unwritable stdin) opens
the language's circuit breaker for a cooldown period. Errors raised by
user code on a healthy kernel are ordinary results, not breaker failures.

Executions without an explicit context route to the language's default
context, created once on first use and recreated if deleted.
*/
package interpreter
