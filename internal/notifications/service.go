package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"framewise/internal/config"
	"framewise/internal/queue"
)

const userAgent = "Framewise-Go/0.1.0"

// Service defines the notification surface.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job queue.Job) error
	NotifyJobFailed(ctx context.Context, job queue.Job) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := config.Seconds(cfg.Notifications.RequestTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job queue.Job) error {
	message := fmt.Sprintf("✅ %s finished: %s", job.Kind, job.ID)
	if d := job.Duration(time.Now()); d > 0 {
		message = fmt.Sprintf("%s in %s", message, d.Round(time.Second))
	}
	return n.send(ctx, payload{
		title:   "Framewise - Job Complete",
		message: message,
		tags:    []string{"framewise", job.Kind, "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job queue.Job) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "❌ %s failed: %s", job.Kind, job.ID)
	if reason := strings.TrimSpace(job.Error); reason != "" {
		builder.WriteString("\n")
		builder.WriteString(reason)
	}
	tags := []string{"framewise", job.Kind, "error"}
	if job.ErrorKind != "" {
		tags = append(tags, job.ErrorKind)
	}
	return n.send(ctx, payload{
		title:    "Framewise - Job Failed",
		message:  builder.String(),
		tags:     tags,
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Framewise - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"framewise", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, queue.Job) error { return nil }
func (noopService) NotifyJobFailed(context.Context, queue.Job) error    { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
