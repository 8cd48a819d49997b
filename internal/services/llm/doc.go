// Package llm provides an OpenRouter chat client used for frame description,
// summarization, and the text-generation job kinds.
//
// Requests go through an optional token-bucket limiter so a burst of
// per-frame vision calls stays inside the provider's rate limits. The client
// retries on HTTP 408/429/5xx and network timeouts with exponential backoff
// (base 1s, max 10s, up to 5 attempts by default), honouring Retry-After.
// Context cancellation aborts retries immediately.
//
// Every attempt signals the job heartbeat carried by the context, so long
// retry sequences do not look like a hung worker.
package llm
