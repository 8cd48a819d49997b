package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"framewise/internal/logging"
	"framewise/internal/services"
)

// SourceKind classifies a submitted source.
type SourceKind int

const (
	SourceLocal SourceKind = iota
	SourceHTTP
	SourceS3
)

// ErrTooLarge reports a download that exceeded the size limit.
var ErrTooLarge = errors.New("download exceeds size limit")

// Classify reports how a source string should be acquired.
func Classify(source string) SourceKind {
	lower := strings.ToLower(strings.TrimSpace(source))
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return SourceHTTP
	case strings.HasPrefix(lower, "s3://"):
		return SourceS3
	default:
		return SourceLocal
	}
}

// ObjectStore downloads objects from an S3-compatible store.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string, w io.Writer) error
}

// Acquirer fetches remote sources.
type Acquirer struct {
	httpClient *http.Client
	store      ObjectStore
	maxBytes   int64
	logger     *slog.Logger
}

// Option customises an Acquirer.
type Option func(*Acquirer)

// WithHTTPClient overrides the HTTP client used for URL sources.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Acquirer) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithObjectStore enables s3:// sources.
func WithObjectStore(store ObjectStore) Option {
	return func(a *Acquirer) { a.store = store }
}

// WithMaxBytes caps download size. Zero means unlimited.
func WithMaxBytes(n int64) Option {
	return func(a *Acquirer) { a.maxBytes = n }
}

// New constructs an Acquirer.
func New(logger *slog.Logger, opts ...Option) *Acquirer {
	a := &Acquirer{
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger(logger, "ingest"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire downloads a remote source into destDir and returns the local path.
// Local sources are returned unchanged without touching destDir.
func (a *Acquirer) Acquire(ctx context.Context, source, destDir string) (string, error) {
	source = strings.TrimSpace(source)
	switch Classify(source) {
	case SourceHTTP:
		return a.fetchHTTP(ctx, source, destDir)
	case SourceS3:
		return a.fetchS3(ctx, source, destDir)
	default:
		return source, nil
	}
}

func (a *Acquirer) fetchHTTP(ctx context.Context, source, destDir string) (string, error) {
	parsed, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	if a.maxBytes > 0 && resp.ContentLength > a.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	dest := filepath.Join(destDir, "source"+safeExt(parsed.Path))
	if err := a.writeFile(ctx, dest, func(w io.Writer) error {
		_, err := io.Copy(w, resp.Body)
		return err
	}); err != nil {
		return "", err
	}
	a.logger.Debug("http source downloaded", logging.String("url", parsed.Redacted()), logging.String("path", dest))
	return dest, nil
}

func (a *Acquirer) fetchS3(ctx context.Context, source, destDir string) (string, error) {
	if a.store == nil {
		return "", errors.New("s3 source requires storage configuration")
	}
	bucket, key, err := ParseS3(source)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, "source"+safeExt(key))
	if err := a.writeFile(ctx, dest, func(w io.Writer) error {
		return a.store.Download(ctx, bucket, key, w)
	}); err != nil {
		return "", err
	}
	a.logger.Debug("object source downloaded", logging.String("bucket", bucket), logging.String("key", key))
	return dest, nil
}

// writeFile streams into dest through a heartbeat writer and enforces the
// size cap. A partial file is removed on failure.
func (a *Acquirer) writeFile(ctx context.Context, dest string, fill func(io.Writer) error) error {
	file, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	var w io.Writer = file
	var limited *limitWriter
	if a.maxBytes > 0 {
		limited = &limitWriter{w: file, remaining: a.maxBytes}
		w = limited
	}
	fillErr := fill(services.HeartbeatWriter(ctx, w))
	closeErr := file.Close()
	if fillErr == nil {
		fillErr = closeErr
	}
	if fillErr != nil {
		_ = os.Remove(dest)
		if limited != nil && limited.exceeded {
			return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, a.maxBytes)
		}
		return fmt.Errorf("download: %w", fillErr)
	}
	return nil
}

// ParseS3 splits s3://bucket/key.
func ParseS3(source string) (string, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(source), "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", source)
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || strings.TrimLeft(key, "/") == "" {
		return "", "", fmt.Errorf("s3 url must be s3://bucket/key: %q", source)
	}
	return bucket, strings.TrimLeft(key, "/"), nil
}

// safeExt keeps a short alphanumeric extension from p so container detection
// still works after the rename.
func safeExt(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

type limitWriter struct {
	w         io.Writer
	remaining int64
	exceeded  bool
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		l.exceeded = true
		return 0, ErrTooLarge
	}
	n, err := l.w.Write(p)
	l.remaining -= int64(n)
	return n, err
}
