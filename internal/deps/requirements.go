package deps

import "framewise/internal/config"

// Requirements lists the external tools the media pipeline invokes.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Pipeline.FFmpegBinary,
			Description: "Extracts frames and audio",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Pipeline.FFprobeBinary,
			Description: "Reads container metadata",
		},
		{
			Name:        "uvx",
			Command:     cfg.Transcription.UVXBinary,
			Description: "Runs WhisperX transcription",
		},
	}
}
