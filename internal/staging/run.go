package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RunPrefix starts every run directory name.
const RunPrefix = "run-"

// Run is one pipeline invocation's private directory.
type Run struct {
	dir string

	mu        sync.Mutex
	artifacts []string
}

// NewRun creates a unique run directory for jobID under workDir.
func NewRun(workDir, jobID string) (*Run, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, errors.New("staging: work dir required")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: ensure work dir: %w", err)
	}
	dir, err := os.MkdirTemp(workDir, RunPrefix+sanitizeID(jobID)+"-*")
	if err != nil {
		return nil, fmt.Errorf("staging: create run dir: %w", err)
	}
	return &Run{dir: dir}, nil
}

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// Path returns a path for name inside the run directory and records it as
// an artifact to delete on cleanup.
func (r *Run) Path(name string) string {
	p := filepath.Join(r.dir, filepath.Base(name))
	r.mu.Lock()
	r.artifacts = append(r.artifacts, p)
	r.mu.Unlock()
	return p
}

// Track records a file a collaborator already wrote into the run directory.
// Paths outside the directory are ignored.
func (r *Run) Track(path string) {
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	r.mu.Lock()
	r.artifacts = append(r.artifacts, path)
	r.mu.Unlock()
}

// Artifacts returns the recorded artifact paths.
func (r *Run) Artifacts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.artifacts...)
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	Removed int
	Errors  []CleanupError
}

// CleanupError pairs a path with its removal error.
type CleanupError struct {
	Path  string
	Error error
}

// Cleanup deletes every recorded artifact and then the run directory with
// anything tools wrote beside them. Missing files are not errors.
func (r *Run) Cleanup() CleanupResult {
	var result CleanupResult
	for _, p := range r.Artifacts() {
		switch err := os.Remove(p); {
		case err == nil:
			result.Removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			result.Errors = append(result.Errors, CleanupError{Path: p, Error: err})
		}
	}
	if err := os.RemoveAll(r.dir); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: r.dir, Error: err})
	}
	return result
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "adhoc"
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
