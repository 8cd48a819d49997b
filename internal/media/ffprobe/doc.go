// Package ffprobe wraps ffprobe JSON output and turns it into the metadata
// the pipeline validates and reports.
//
// Inspect runs ffprobe and decodes streams and format; Prober adapts that to
// the pipeline's probe collaborator, picking the first video stream for
// geometry and codec.
package ffprobe
