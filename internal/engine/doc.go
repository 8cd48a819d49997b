// Package engine is the submission and query façade over the job registry,
// the handler registry, and the per-class worker pools.
//
// An Engine is constructed once at process startup, handlers are registered
// on it, and Start freezes the handler table and launches the workers.
// Enqueue never waits for execution; callers poll GetStatus.
package engine
