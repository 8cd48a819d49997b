// Package analysis adapts the LLM client to the pipeline's visual analysis
// and summarization collaborators.
package analysis
