// Package config loads, normalizes, and validates framewise configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY and REDIS_URL. The Config type centralizes every knob the
// daemon and CLI need: queue classes and their concurrency, pipeline stage
// deadlines, collaborator endpoints, and retention of finished jobs.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
