// Package queue holds the job model and the in-memory status registry that
// tracks every submitted job through its lifecycle.
//
// Jobs move forward only: queued, processing, then exactly one of completed
// or failed. The Registry enforces that state machine, rejects duplicate ids,
// records heartbeats for in-flight jobs, and fans committed changes out to
// observers such as the sqlite history archive or the Redis status mirror.
// Finished jobs are evicted by the retention sweeper once they age out or the
// registry grows past its cap; unfinished jobs are never evicted.
//
// Readers always receive copies. Only the worker that owns a job transitions
// it.
package queue
