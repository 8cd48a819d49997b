// Package pipeline implements the media-process job: acquire, validate,
// probe, sample frames, extract audio, transcribe, detect visual elements,
// and summarize.
//
// Every external capability sits behind a small interface so tests and
// alternative backends can swap it. The pipeline owns a run-scoped staging
// directory for each invocation and always removes it before returning,
// whatever the outcome.
package pipeline
