//go:build debug

// Package tag carries compile-time build tags that switch on extra
// consistency bookkeeping in hot paths (extra nil-outs of stale pointers,
// extra assertions). None of it is required for correctness; it exists so
// invariant violations fail loudly in tests instead of silently corrupting
// state.
package tag

// Debug is true when the repo is built with `-tags debug`.
const Debug = true
