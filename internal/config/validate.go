package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	if len(c.Engine.Classes) == 0 {
		return errors.New("engine.classes must define at least one queue class")
	}
	if _, ok := c.Engine.Classes[c.Engine.DefaultClass]; !ok {
		return fmt.Errorf("engine.default_class %q is not a configured class", c.Engine.DefaultClass)
	}
	kinds := make([]string, 0, len(c.Engine.Routes))
	for kind := range c.Engine.Routes {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		class := c.Engine.Routes[kind]
		if class == "" {
			return fmt.Errorf("engine.routes.%s must name a queue class", kind)
		}
		if _, ok := c.Engine.Classes[class]; !ok {
			return fmt.Errorf("engine.routes.%s references unknown class %q", kind, class)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.ShutdownTimeout < 0 {
		return errors.New("workflow.shutdown_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.MaxAge < 0 {
		return errors.New("retention.max_age must be >= 0")
	}
	if c.Retention.MaxJobs < 0 {
		return errors.New("retention.max_jobs must be >= 0")
	}
	if (c.Retention.MaxAge > 0 || c.Retention.MaxJobs > 0) && c.Retention.SweepInterval <= 0 {
		return errors.New("retention.sweep_interval must be positive when retention is enabled")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.SupportedExtensions) == 0 {
		return errors.New("pipeline.supported_extensions must include at least one extension")
	}
	if c.Pipeline.MinFrames <= 0 {
		return errors.New("pipeline.min_frames must be positive")
	}
	if c.Pipeline.MaxFrames < c.Pipeline.MinFrames {
		return errors.New("pipeline.max_frames must be >= pipeline.min_frames")
	}
	if err := ensurePositiveMap(map[string]int{
		"pipeline.acquire_timeout":    c.Pipeline.AcquireTimeout,
		"pipeline.probe_timeout":      c.Pipeline.ProbeTimeout,
		"pipeline.frame_timeout":      c.Pipeline.FrameTimeout,
		"pipeline.audio_timeout":      c.Pipeline.AudioTimeout,
		"pipeline.transcribe_timeout": c.Pipeline.TranscribeTimeout,
		"pipeline.vision_timeout":     c.Pipeline.VisionTimeout,
		"pipeline.summarize_timeout":  c.Pipeline.SummarizeTimeout,
	}); err != nil {
		return err
	}
	if c.Pipeline.StaleRunAge < 0 {
		return errors.New("pipeline.stale_run_age must be >= 0")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if c.Transcription.Language == "" {
		return nil
	}
	if _, err := language.Parse(c.Transcription.Language); err != nil {
		return fmt.Errorf("transcription.language %q is not a valid language tag: %w", c.Transcription.Language, err)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		return fmt.Errorf("llm.base_url: %w", err)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return errors.New("llm.requests_per_second must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Endpoint == "" {
		return nil
	}
	if strings.Contains(c.Storage.Endpoint, "://") {
		return errors.New("storage.endpoint must be host[:port] without a scheme")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("storage.access_key and storage.secret_key must be set when storage.endpoint is configured (or set MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.URL == "" {
		return nil
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return errors.New("redis.url must use the redis:// or rediss:// scheme")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
