// Package main hosts the framewise CLI.
//
// Commands talk to a running daemon over its HTTP API, except for config
// scaffolding, preflight checks, history pruning, and `daemon run`, which
// work from the local configuration alone.
package main
