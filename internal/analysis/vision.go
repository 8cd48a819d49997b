package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"framewise/internal/logging"
	"framewise/internal/media"
	"framewise/internal/services"
	"framewise/internal/services/llm"
)

// ImageDescriber is the subset of the LLM client used for frames.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, systemPrompt, userPrompt, imagePath string) (string, error)
}

const visionSystemPrompt = `You label still frames from videos. Respond with JSON only, in the form {"elements":["..."]}. List the distinct visible objects, people, on-screen text, and scene types as short lowercase noun phrases. Return an empty list when nothing is recognisable.`

// Vision detects visual elements frame by frame.
type Vision struct {
	client ImageDescriber
	logger *slog.Logger
}

// NewVision constructs a vision analyzer.
func NewVision(client ImageDescriber, logger *slog.Logger) *Vision {
	return &Vision{client: client, logger: logging.NewComponentLogger(logger, "vision")}
}

// Analyze returns one annotation per frame, in frame order.
func (v *Vision) Analyze(ctx context.Context, frames []media.Frame) ([]media.FrameAnnotation, error) {
	annotations := make([]media.FrameAnnotation, 0, len(frames))
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf("Frame %d of %d, captured at %.1f seconds.", frame.Index+1, len(frames), frame.Timestamp)
		content, err := v.client.DescribeImage(ctx, visionSystemPrompt, prompt, frame.Path)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
		}
		var parsed struct {
			Elements []string `json:"elements"`
		}
		if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
			return nil, fmt.Errorf("frame %d: parse elements: %w", frame.Index, err)
		}
		annotations = append(annotations, media.FrameAnnotation{
			Timestamp: frame.Timestamp,
			Elements:  normalizeElements(parsed.Elements),
		})
		services.Heartbeat(ctx)
		v.logger.Debug("frame analyzed",
			logging.Int("frame", frame.Index),
			logging.Int("elements", len(parsed.Elements)),
		)
	}
	return annotations, nil
}

func normalizeElements(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
