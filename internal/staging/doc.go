// Package staging owns the run-scoped directories that hold a pipeline run's
// frames, audio, and downloads.
//
// Each run gets a unique run-<jobID>-<random> directory under the work dir.
// Run.Cleanup removes the artifacts it handed out and then the directory;
// CleanStale sweeps run directories left behind by a crashed process.
package staging
