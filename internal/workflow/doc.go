// Package workflow runs queued jobs on bounded worker pools, one pool per
// queue class.
//
// Each Pool keeps an in-memory FIFO of job ids and runs up to its configured
// concurrency of workers. A worker dequeues the oldest id, moves the job to
// processing in the same critical section, resolves its handler, runs it
// through the middleware chain, and records the outcome. Unknown kinds fail
// with a dispatch error; handler panics and deadlines become job failures and
// never escape the worker loop.
//
// The Manager owns every pool plus the heartbeat monitor that logs jobs whose
// handlers stop reporting progress.
package workflow
