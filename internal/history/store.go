package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"framewise/internal/queue"
	"framewise/internal/services"
)

// Store persists finished jobs in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one archived job.
type Entry struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Class      string          `json:"class"`
	Status     queue.Status    `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"errorKind,omitempty"`
	QueuedAt   time.Time       `json:"queuedAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
	Duration   time.Duration   `json:"-"`
}

// MarshalJSON reports Duration in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(struct {
		alias
		Duration int64 `json:"durationMs"`
	}{alias: alias(e), Duration: e.Duration.Milliseconds()})
}

// UnmarshalJSON accepts the durationMs form written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	aux := struct {
		*alias
		Duration int64 `json:"durationMs"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Duration = time.Duration(aux.Duration) * time.Millisecond
	return nil
}

// Query narrows List results. Zero values match everything.
type Query struct {
	Status queue.Status
	Kind   string
	Since  time.Time
	Limit  int
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	defaultListLimit = 100
	entryColumns     = "id, kind, class, status, payload_json, result_json, error_message, error_kind, queued_at, started_at, finished_at, duration_ms"
)

// Open initializes or connects to the archive at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record archives a terminal job. Re-recording the same id replaces the row.
func (s *Store) Record(ctx context.Context, job queue.Job) error {
	if !job.Status.IsTerminal() {
		return services.Wrap(services.ErrValidation, "history", "record",
			fmt.Sprintf("job %s is %s, not terminal", job.ID, job.Status), nil)
	}
	finished, _ := job.FinishedAt()
	_, err := s.execWithRetry(ctx, `INSERT OR REPLACE INTO jobs (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Kind,
		job.Class,
		string(job.Status),
		nullableRaw(job.Payload),
		nullableRaw(job.Result),
		nullableString(job.Error),
		nullableString(job.ErrorKind),
		formatTime(job.QueuedAt),
		nullableTime(job.StartedAt),
		formatTime(finished),
		job.Duration(finished).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the archived job with id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM jobs WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, services.Wrap(services.ErrNotFound, "history", "get", fmt.Sprintf("job %s not archived", id), nil)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("history: get %s: %w", id, err)
	}
	return entry, nil
}

// List returns archived jobs newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if kind := strings.TrimSpace(q.Kind); kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, kind)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "finished_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := "SELECT " + entryColumns + " FROM jobs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY finished_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats returns archived job counts per terminal status.
func (s *Store) Stats(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("history: stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[queue.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("history: scan stats: %w", err)
		}
		stats[queue.Status(status)] = count
	}
	return stats, rows.Err()
}

// Prune deletes entries that finished before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM jobs WHERE finished_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry       Entry
		status      string
		payload     sql.NullString
		result      sql.NullString
		errMessage  sql.NullString
		errKind     sql.NullString
		queuedRaw   string
		startedRaw  sql.NullString
		finishedRaw string
		durationMS  int64
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.Kind,
		&entry.Class,
		&status,
		&payload,
		&result,
		&errMessage,
		&errKind,
		&queuedRaw,
		&startedRaw,
		&finishedRaw,
		&durationMS,
	); err != nil {
		return Entry{}, err
	}
	entry.Status = queue.Status(status)
	if payload.Valid {
		entry.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		entry.Result = json.RawMessage(result.String)
	}
	entry.Error = errMessage.String
	entry.ErrorKind = errKind.String
	entry.Duration = time.Duration(durationMS) * time.Millisecond

	var err error
	if entry.QueuedAt, err = parseTime(queuedRaw); err != nil {
		return Entry{}, fmt.Errorf("parse queued_at: %w", err)
	}
	if entry.FinishedAt, err = parseTime(finishedRaw); err != nil {
		return Entry{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if startedRaw.Valid && startedRaw.String != "" {
		started, err := parseTime(startedRaw.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parse started_at: %w", err)
		}
		entry.StartedAt = &started
	}
	return entry, nil
}
