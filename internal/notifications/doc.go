// Package notifications pushes job outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never branch on whether notifications are enabled. Observer adapts
// a Service to the registry's observer hook for terminal transitions.
package notifications
