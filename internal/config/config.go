package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// QueueClass configures one bounded worker pool.
type QueueClass struct {
	Concurrency int `toml:"concurrency"`
	// JobTimeout bounds a single job in seconds. Zero disables the deadline.
	JobTimeout int `toml:"job_timeout"`
}

// Engine maps job kinds onto queue classes.
type Engine struct {
	DefaultClass string                `toml:"default_class"`
	Routes       map[string]string     `toml:"routes"`
	Classes      map[string]QueueClass `toml:"classes"`
}

// Workflow contains configuration for worker liveness and shutdown timing.
type Workflow struct {
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	ShutdownTimeout   int `toml:"shutdown_timeout"`
}

// Retention bounds how long finished jobs stay queryable.
type Retention struct {
	MaxAge        int `toml:"max_age"`
	MaxJobs       int `toml:"max_jobs"`
	SweepInterval int `toml:"sweep_interval"`
}

// Pipeline contains media pipeline tooling and stage deadlines. Timeouts are
// in seconds.
type Pipeline struct {
	FFmpegBinary        string   `toml:"ffmpeg_binary"`
	FFprobeBinary       string   `toml:"ffprobe_binary"`
	SupportedExtensions []string `toml:"supported_extensions"`
	MinFrames           int      `toml:"min_frames"`
	MaxFrames           int      `toml:"max_frames"`
	SecondsPerFrame     int      `toml:"seconds_per_frame"`
	FrameConcurrency    int      `toml:"frame_concurrency"`
	AcquireTimeout      int      `toml:"acquire_timeout"`
	ProbeTimeout        int      `toml:"probe_timeout"`
	FrameTimeout        int      `toml:"frame_timeout"`
	AudioTimeout        int      `toml:"audio_timeout"`
	TranscribeTimeout   int      `toml:"transcribe_timeout"`
	VisionTimeout       int      `toml:"vision_timeout"`
	SummarizeTimeout    int      `toml:"summarize_timeout"`
	StaleRunAge         int      `toml:"stale_run_age"`
	MaxDownloadMiB      int      `toml:"max_download_mib"`
}

// Transcription configures the WhisperX transcriber.
type Transcription struct {
	UVXBinary   string `toml:"uvx_binary"`
	Model       string `toml:"model"`
	Language    string `toml:"language"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method"`
}

// LLM contains the OpenRouter-compatible connection used by vision,
// summarization, and text generation.
type LLM struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	VisionModel       string  `toml:"vision_model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Storage configures the S3-compatible object store used for s3:// sources.
type Storage struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Redis configures the job-status mirror. An empty URL disables it.
type Redis struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
	Channel   string `toml:"channel"`
	TTL       int    `toml:"ttl"`
}

// History configures the sqlite archive of finished jobs.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for framewise.
//
// Configuration sections by subsystem:
//   - Paths: work, state, and log directories plus the API bind address
//   - Engine: kind routing and per-class worker pools
//   - Workflow: heartbeat and shutdown timing
//   - Retention: eviction of finished jobs
//   - Pipeline: ffmpeg tooling, frame sampling, stage deadlines
//   - Transcription: WhisperX settings
//   - LLM: vision, summary, and text generation endpoint
//   - Storage: object store for s3:// sources
//   - Redis: job-status mirror
//   - History: sqlite archive of finished jobs
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	Workflow      Workflow      `toml:"workflow"`
	Retention     Retention     `toml:"retention"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Storage       Storage       `toml:"storage"`
	Redis         Redis         `toml:"redis"`
	History       History       `toml:"history"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("framewise.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ClassFor returns the queue class a job kind is routed to.
func (c *Config) ClassFor(kind string) string {
	if class, ok := c.Engine.Routes[kind]; ok && class != "" {
		return class
	}
	return c.Engine.DefaultClass
}

// ClassNames returns configured queue classes in a stable order.
func (c *Config) ClassNames() []string {
	names := make([]string, 0, len(c.Engine.Classes))
	for name := range c.Engine.Classes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StageTimeout returns the deadline for a named pipeline stage. Unknown stages
// and non-positive values yield zero, meaning no deadline.
func (c *Config) StageTimeout(stage string) time.Duration {
	var seconds int
	switch stage {
	case "acquire":
		seconds = c.Pipeline.AcquireTimeout
	case "validate", "probe":
		seconds = c.Pipeline.ProbeTimeout
	case "frames":
		seconds = c.Pipeline.FrameTimeout
	case "audio":
		seconds = c.Pipeline.AudioTimeout
	case "transcribe":
		seconds = c.Pipeline.TranscribeTimeout
	case "vision":
		seconds = c.Pipeline.VisionTimeout
	case "summarize":
		seconds = c.Pipeline.SummarizeTimeout
	}
	return Seconds(seconds)
}

// HistoryPath returns the sqlite archive location.
func (c *Config) HistoryPath() string {
	if strings.TrimSpace(c.History.Path) != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "framewised.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "framewised.pid")
}

// Seconds converts a config value in seconds to a duration. Non-positive
// values yield zero.
func Seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
