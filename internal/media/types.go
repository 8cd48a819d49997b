package media

import "errors"

// ErrNoVideoStream reports a container without any video stream.
var ErrNoVideoStream = errors.New("no video stream")

// Metadata describes the primary video stream of a source.
type Metadata struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"durationSeconds"`
	BitRate         int64   `json:"bitRate"`
	Codec           string  `json:"codec"`
	HasAudio        bool    `json:"hasAudio"`
}

// Frame is a still extracted from the source at Timestamp seconds.
type Frame struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"-"`
}

// FrameAnnotation lists the visual elements detected in one frame.
type FrameAnnotation struct {
	Timestamp float64  `json:"timestamp"`
	Elements  []string `json:"elements"`
}
