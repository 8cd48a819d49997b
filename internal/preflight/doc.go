// Package preflight provides readiness checks for the filesystem paths,
// external binaries, and LLM endpoint framewise depends on.
//
// The daemon runs RunAll at startup and refuses to start when a required
// check fails. The CLI "framewise preflight" command prints the same results
// and can add an online LLM probe.
package preflight
