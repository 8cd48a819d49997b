// Package api defines the JSON wire types served by the daemon's HTTP API and
// a client the CLI uses to talk to it.
package api
