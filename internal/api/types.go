package api

import (
	"encoding/json"
	"time"

	"framewise/internal/deps"
	"framewise/internal/history"
	"framewise/internal/queue"
	"framewise/internal/workflow"
)

// DaemonStatus is returned by GET /api/status.
type DaemonStatus struct {
	Running      bool                 `json:"running"`
	PID          int                  `json:"pid"`
	StartedAt    *time.Time           `json:"startedAt,omitempty"`
	LockFilePath string               `json:"lockFilePath"`
	HistoryPath  string               `json:"historyPath,omitempty"`
	Jobs         queue.Summary        `json:"jobs"`
	Pools        []workflow.PoolStats `json:"pools"`
	Kinds        []string             `json:"kinds"`
	Dependencies []deps.Status        `json:"dependencies"`
}

// SubmitRequest is the body of POST /api/jobs. ID is optional; the daemon
// generates one when it is empty.
type SubmitRequest struct {
	ID      string          `json:"id,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	ID string `json:"id"`
}

// JobResponse wraps a single job record.
type JobResponse struct {
	Job queue.Job `json:"job"`
}

// JobListResponse wraps a list of job records.
type JobListResponse struct {
	Jobs []queue.Job `json:"jobs"`
}

// HistoryEntryResponse wraps a single archived job.
type HistoryEntryResponse struct {
	Entry history.Entry `json:"entry"`
}

// HistoryListResponse wraps archived jobs, newest first.
type HistoryListResponse struct {
	Entries []history.Entry `json:"entries"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
