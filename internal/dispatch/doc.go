// Package dispatch is the entry point that replaces a plain fork call.
//
// A Dispatcher takes optional hints about what the caller intends to do with
// the new process, builds a private context from them, and routes the
// request to the cheapest strategy that still gives the caller correct
// process semantics.
//
// Routing:
//   - Pattern ForkExec, or any planned exec target → fast path
//   - no changes → DirectSpawn (one create-and-exec, no duplication)
//   - pending state changes → PrimedSpawn (loader applies them, then execs)
//   - everything else (AutoDetect, Worker, Snapshot) → FullDuplication (real fork)
//
// Hints:
//   - Dispatch takes hints as a value and touches no shared state.
//   - Fork consumes the hints stored by SetNextPattern, SetNextExecParams and
//     AddNextStateChange. They apply to exactly one call, whatever its outcome,
//     and the handle falls back to AutoDetect afterwards.
//
// Error handling:
//   - ForkExec without a target → InvalidContext
//   - limits exceeded while building the context → ResourceExhausted
//   - transport, transfer and spawn failures → the kinds in package spork
//   - fork failure → the native errno, unaltered
//
// Nothing is retried and no failed strategy falls through to another.
package dispatch
