// Package daemon coordinates the long-running framewise process.
//
// It wraps the job engine in a single lifecycle with flock-based locking to
// prevent multiple instances, writes a pid file, runs background observers
// (history, status mirror, notifications, stale run sweeps) tied to the
// daemon context, and serves the JSON HTTP API the CLI talks to.
//
// Keep orchestration logic here: pipeline stages and handlers live in their
// own packages while the daemon focuses on startup, shutdown, and transport.
package daemon
