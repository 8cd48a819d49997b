package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"framewise/internal/history"
	"framewise/internal/queue"
	"framewise/internal/services"
)

// ErrAPIUnavailable reports that the daemon API could not be reached.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client talks to a running daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// JobQuery narrows Jobs results.
type JobQuery struct {
	Statuses []queue.Status
	Kind     string
	Class    string
	Limit    int
}

// HistoryQuery narrows History results.
type HistoryQuery struct {
	Status queue.Status
	Kind   string
	Limit  int
}

// NewClient targets bind, which may be host:port or a full URL.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
		token: strings.TrimSpace(token),
	}, nil
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Submit enqueues a job and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Job fetches one job record.
func (c *Client) Job(ctx context.Context, id string) (queue.Job, error) {
	var out JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &out)
	return out.Job, err
}

// Jobs lists job records.
func (c *Client) Jobs(ctx context.Context, q JobQuery) ([]queue.Job, error) {
	values := url.Values{}
	for _, s := range q.Statuses {
		values.Add("status", string(s))
	}
	setIf(values, "kind", q.Kind)
	setIf(values, "class", q.Class)
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var out JobListResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs", values, nil, &out)
	return out.Jobs, err
}

// History lists archived jobs.
func (c *Client) History(ctx context.Context, q HistoryQuery) (HistoryListResponse, error) {
	values := url.Values{}
	setIf(values, "status", string(q.Status))
	setIf(values, "kind", q.Kind)
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var out HistoryListResponse
	err := c.do(ctx, http.MethodGet, "/api/history", values, nil, &out)
	return out, err
}

// HistoryEntry fetches one archived job.
func (c *Client) HistoryEntry(ctx context.Context, id string) (history.Entry, error) {
	var out HistoryEntryResponse
	err := c.do(ctx, http.MethodGet, "/api/history/"+url.PathEscape(id), nil, nil, &out)
	return out.Entry, err
}

// WaitForTerminal polls a job until it completes or fails.
func (c *Client) WaitForTerminal(ctx context.Context, id string, interval time.Duration) (queue.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return queue.Job{}, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	ref.RawQuery = query.Encode()
	endpoint := c.base.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if IsAPIUnavailable(err) {
			return fmt.Errorf("%w: %w", ErrAPIUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError rebuilds a classified error from the daemon's error body so
// services.KindOf works on the client side.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(body))
	}
	message := fmt.Sprintf("api returned %d: %s", resp.StatusCode, payload.Error)
	if marker := markerForKind(services.ErrorKind(payload.Kind)); marker != nil {
		return fmt.Errorf("%w: %s", marker, message)
	}
	return errors.New(message)
}

func markerForKind(kind services.ErrorKind) error {
	switch kind {
	case services.KindValidation:
		return services.ErrValidation
	case services.KindRegistry:
		return services.ErrRegistry
	case services.KindNotFound:
		return services.ErrNotFound
	case services.KindConfiguration:
		return services.ErrConfiguration
	case services.KindDispatch:
		return services.ErrDispatch
	default:
		return nil
	}
}

// IsAPIUnavailable reports whether err came from failing to reach the daemon.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

func setIf(values url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		values.Set(key, value)
	}
}
