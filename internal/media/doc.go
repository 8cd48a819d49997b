// Package media holds the value types shared by the media tool adapters and
// the pipeline: probe metadata, sampled frames, and per-frame annotations.
package media
