package queue

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"framewise/internal/logging"
)

// RetentionPolicy bounds how many finished jobs the registry keeps.
type RetentionPolicy struct {
	// MaxAge evicts finished jobs older than this. Zero disables age eviction.
	MaxAge time.Duration
	// MaxJobs caps the registry size by evicting the oldest finished jobs
	// first. Zero disables the cap.
	MaxJobs int
}

// Enabled reports whether the policy can evict anything.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxJobs > 0
}

// Evict removes finished jobs according to policy and returns their ids.
// Queued and processing jobs are never evicted, so the registry may stay
// above MaxJobs while work is outstanding.
func (r *Registry) Evict(policy RetentionPolicy) []string {
	if !policy.Enabled() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	type candidate struct {
		id       string
		finished time.Time
		seq      uint64
	}
	var terminal []candidate
	for id, e := range r.jobs {
		finished, ok := e.job.FinishedAt()
		if !ok {
			continue
		}
		terminal = append(terminal, candidate{id: id, finished: finished, seq: e.seq})
	}
	sort.Slice(terminal, func(i, j int) bool {
		if terminal[i].finished.Equal(terminal[j].finished) {
			return terminal[i].seq < terminal[j].seq
		}
		return terminal[i].finished.Before(terminal[j].finished)
	})

	var evicted []string
	remaining := terminal[:0]
	for _, c := range terminal {
		if policy.MaxAge > 0 && now.Sub(c.finished) > policy.MaxAge {
			delete(r.jobs, c.id)
			evicted = append(evicted, c.id)
			continue
		}
		remaining = append(remaining, c)
	}
	if policy.MaxJobs > 0 {
		for _, c := range remaining {
			if len(r.jobs) <= policy.MaxJobs {
				break
			}
			delete(r.jobs, c.id)
			evicted = append(evicted, c.id)
		}
	}
	return evicted
}

// RunRetention evicts on every tick until ctx is cancelled.
func (r *Registry) RunRetention(ctx context.Context, policy RetentionPolicy, interval time.Duration, logger *slog.Logger) {
	if !policy.Enabled() || interval <= 0 {
		return
	}
	logger = logging.NewComponentLogger(logger, "retention")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := r.Evict(policy)
			if len(evicted) > 0 {
				logger.Debug("finished jobs evicted",
					logging.Int("count", len(evicted)),
					logging.Int("remaining", r.Len()),
					logging.String(logging.FieldEventType, "retention_evicted"),
				)
			}
		}
	}
}
