// Package services defines shared utilities consumed by the job engine, the
// media pipeline, and the external tool adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, queue classes, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so every failure carries a
//     category (validation, external tool, collaborator, dispatch, registry)
//     that the worker boundary turns into a job's failure message.
//   - The heartbeat hook long-running handlers call to prove liveness.
package services
