// Package ingest resolves a job's source into a local file.
//
// Local paths are used in place. http(s) URLs are downloaded and s3://
// locations are fetched from the configured object store; both land in the
// destination directory the caller owns, so the caller's cleanup removes
// them.
package ingest
