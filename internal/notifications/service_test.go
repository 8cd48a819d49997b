package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"framewise/internal/config"
	"framewise/internal/logging"
	"framewise/internal/notifications"
	"framewise/internal/queue"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), queue.Job{ID: "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type capture struct {
	mu       sync.Mutex
	title    string
	tags     string
	priority string
	body     string
	calls    int
}

func newCaptureServer(t *testing.T, c *capture, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.title = r.Header.Get("Title")
		c.tags = r.Header.Get("Tags")
		c.priority = r.Header.Get("Priority")
		c.body = string(body)
		c.calls++
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "completed",
			send: func(s notifications.Service) error {
				return s.NotifyJobCompleted(context.Background(), queue.Job{
					ID: "job-1", Kind: "media-process", Status: queue.StatusCompleted,
					StartedAt: &started, CompletedAt: &finished,
				})
			},
			expectTitle:   "Framewise - Job Complete",
			expectMessage: "✅ media-process finished: job-1 in 1m30s",
			expectTags:    "framewise,media-process,completed",
		},
		{
			name: "failed",
			send: func(s notifications.Service) error {
				return s.NotifyJobFailed(context.Background(), queue.Job{
					ID: "job-2", Kind: "generate-tasks", Status: queue.StatusFailed,
					Error: "collaborator error: generate-tasks: complete: llm call failed", ErrorKind: "collaborator",
				})
			},
			expectTitle:    "Framewise - Job Failed",
			expectMessage:  "❌ generate-tasks failed: job-2\ncollaborator error: generate-tasks: complete: llm call failed",
			expectTags:     "framewise,generate-tasks,error,collaborator",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Framewise - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "framewise,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			captured := &capture{}
			server := newCaptureServer(t, captured, http.StatusOK)

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := newCaptureServer(t, &capture{}, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestObserverHonorsToggles(t *testing.T) {
	captured := &capture{}
	server := newCaptureServer(t, captured, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false
	cfg.Notifications.Failed = true

	observer := notifications.NewObserver(notifications.NewService(&cfg), cfg.Notifications, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go observer.Run(ctx)

	observer.JobChanged(queue.Job{ID: "a", Kind: "media-process", Status: queue.StatusProcessing})
	observer.JobChanged(queue.Job{ID: "b", Kind: "media-process", Status: queue.StatusCompleted})
	observer.JobChanged(queue.Job{ID: "c", Kind: "media-process", Status: queue.StatusFailed, Error: "boom"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		captured.mu.Lock()
		calls := captured.calls
		captured.mu.Unlock()
		if calls >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if captured.calls != 1 {
		t.Fatalf("expected exactly one notification, got %d", captured.calls)
	}
	if captured.title != "Framewise - Job Failed" {
		t.Fatalf("unexpected title %q", captured.title)
	}
}
