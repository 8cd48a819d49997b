package config

const (
	defaultConfigPath          = "~/.config/framewise/config.toml"
	defaultWorkDir             = "~/.local/share/framewise/work"
	defaultStateDir            = "~/.local/share/framewise/state"
	defaultLogDir              = "~/.local/share/framewise/logs"
	defaultAPIBind             = "127.0.0.1:7491"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultShutdownTimeout     = 30
	defaultRetentionMaxAge     = 24 * 60 * 60
	defaultRetentionMaxJobs    = 1000
	defaultRetentionSweep      = 60
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultMinFrames           = 5
	defaultMaxFrames           = 10
	defaultSecondsPerFrame     = 10
	defaultFrameConcurrency    = 4
	defaultAcquireTimeout      = 600
	defaultProbeTimeout        = 60
	defaultFrameTimeout        = 120
	defaultAudioTimeout        = 600
	defaultTranscribeTimeout   = 3600
	defaultVisionTimeout       = 600
	defaultSummarizeTimeout    = 300
	defaultStaleRunAge         = 24 * 60 * 60
	defaultMaxDownloadMiB      = 4096
	defaultUVXBinary           = "uvx"
	defaultWhisperXModel       = "large-v3-turbo"
	defaultWhisperXLanguage    = "en"
	defaultWhisperXVADMethod   = "silero"
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "google/gemini-3-flash-preview"
	defaultLLMVisionModel      = "google/gemini-3-flash-preview"
	defaultLLMReferer          = "https://github.com/framewise/framewise"
	defaultLLMTitle            = "framewise"
	defaultLLMTimeoutSeconds   = 120
	defaultLLMRequestsPerSec   = 2
	defaultLLMBurst            = 2
	defaultRedisKeyPrefix      = "framewise:job:"
	defaultRedisChannel        = "framewise:jobs"
	defaultRedisTTL            = 24 * 60 * 60
	defaultNotifyTimeout       = 10
	defaultStorageRegion       = "us-east-1"

	// ClassMedia is the queue class for media analysis jobs.
	ClassMedia = "media-processing"
	// ClassTextA is the queue class for specification generation.
	ClassTextA = "text-generation-a"
	// ClassTextB is the queue class for task generation.
	ClassTextB = "text-generation-b"

	// KindMediaProcess is the job kind handled by the media pipeline.
	KindMediaProcess = "media-process"
	// KindGenerateSpecification is the job kind for specification drafting.
	KindGenerateSpecification = "generate-specification"
	// KindGenerateTasks is the job kind for task breakdowns.
	KindGenerateTasks = "generate-tasks"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Engine: Engine{
			DefaultClass: ClassMedia,
			Routes: map[string]string{
				KindMediaProcess:          ClassMedia,
				KindGenerateSpecification: ClassTextA,
				KindGenerateTasks:         ClassTextB,
			},
			Classes: map[string]QueueClass{
				ClassMedia: {Concurrency: 1},
				ClassTextA: {Concurrency: 1},
				ClassTextB: {Concurrency: 1},
			},
		},
		Workflow: Workflow{
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
		},
		Retention: Retention{
			MaxAge:        defaultRetentionMaxAge,
			MaxJobs:       defaultRetentionMaxJobs,
			SweepInterval: defaultRetentionSweep,
		},
		Pipeline: Pipeline{
			FFmpegBinary:        defaultFFmpegBinary,
			FFprobeBinary:       defaultFFprobeBinary,
			SupportedExtensions: []string{".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v"},
			MinFrames:           defaultMinFrames,
			MaxFrames:           defaultMaxFrames,
			SecondsPerFrame:     defaultSecondsPerFrame,
			FrameConcurrency:    defaultFrameConcurrency,
			AcquireTimeout:      defaultAcquireTimeout,
			ProbeTimeout:        defaultProbeTimeout,
			FrameTimeout:        defaultFrameTimeout,
			AudioTimeout:        defaultAudioTimeout,
			TranscribeTimeout:   defaultTranscribeTimeout,
			VisionTimeout:       defaultVisionTimeout,
			SummarizeTimeout:    defaultSummarizeTimeout,
			StaleRunAge:         defaultStaleRunAge,
			MaxDownloadMiB:      defaultMaxDownloadMiB,
		},
		Transcription: Transcription{
			UVXBinary: defaultUVXBinary,
			Model:     defaultWhisperXModel,
			Language:  defaultWhisperXLanguage,
			VADMethod: defaultWhisperXVADMethod,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			VisionModel:       defaultLLMVisionModel,
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerSecond: defaultLLMRequestsPerSec,
			Burst:             defaultLLMBurst,
		},
		Storage: Storage{
			Region: defaultStorageRegion,
			UseSSL: true,
		},
		Redis: Redis{
			KeyPrefix: defaultRedisKeyPrefix,
			Channel:   defaultRedisChannel,
			TTL:       defaultRedisTTL,
		},
		History: History{
			Enabled: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
