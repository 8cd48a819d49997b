// Package handlers maps job kinds to executable handlers and provides the
// middleware chain every invocation runs through.
//
// Feature packages register their handlers at startup. The registry is frozen
// once the engine starts, after which lookups are read-only. Middleware wraps
// each call synchronously for panic recovery, per-class deadlines, logging,
// OpenTelemetry metrics, and tracing.
package handlers
