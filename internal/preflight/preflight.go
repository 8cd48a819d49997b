package preflight

import (
	"context"
	"fmt"
	"strings"

	"framewise/internal/config"
	"framewise/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Optional bool   `json:"optional,omitempty"`
}

// Options toggles checks that cost a network round trip.
type Options struct {
	Online bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	results = append(results, CheckDependencies(cfg)...)

	if opts.Online {
		results = append(results, CheckLLM(ctx, "LLM", cfg.LLM))
	} else {
		results = append(results, CheckLLMKey("LLM", cfg.LLM))
	}
	return results
}

// Failed returns the non-optional results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// CheckDependencies maps the external binary checks onto results.
func CheckDependencies(cfg *config.Config) []Result {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		r := Result{Name: s.Name, Passed: s.Available, Optional: s.Optional}
		if s.Available {
			r.Detail = s.Path
		} else {
			r.Detail = s.Detail
		}
		results = append(results, r)
	}
	return results
}

// CheckLLMKey passes when an API key is configured, without calling the API.
func CheckLLMKey(name string, cfg config.LLM) Result {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing (set llm.api_key or OPENROUTER_API_KEY)"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("key configured (model %s)", cfg.Model)}
}
