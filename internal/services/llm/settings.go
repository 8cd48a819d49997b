package llm

import "framewise/internal/config"

// NewFromSettings builds a client from the [llm] config section, applying
// its rate limit. Extra options are applied after the derived ones.
func NewFromSettings(s config.LLM, opts ...Option) *Client {
	all := make([]Option, 0, len(opts)+1)
	if s.RequestsPerSecond > 0 {
		all = append(all, WithRateLimit(s.RequestsPerSecond, s.Burst))
	}
	all = append(all, opts...)
	return NewClient(Config{
		APIKey:         s.APIKey,
		BaseURL:        s.BaseURL,
		Model:          s.Model,
		VisionModel:    s.VisionModel,
		Referer:        s.Referer,
		Title:          s.Title,
		TimeoutSeconds: s.TimeoutSeconds,
	}, all...)
}
