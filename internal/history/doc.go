// Package history archives finished jobs in SQLite.
//
// The in-memory registry evicts terminal jobs under its retention policy; the
// archive keeps them queryable afterwards for the CLI and the daemon's
// /api/history route. Recorder plugs the store into the registry as an
// observer so only terminal transitions are written.
package history
