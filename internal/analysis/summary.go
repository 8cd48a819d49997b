package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"framewise/internal/media"
)

// TextCompleter is the subset of the LLM client used for summaries.
type TextCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const summarySystemPrompt = `You summarise videos for product teams. Using the transcript, the per-frame visual elements, and the technical metadata, write a concise plain-text summary of what the video shows and says. Do not invent details that are not supported by the inputs.`

// Summarizer writes a summary from transcript, frame annotations, and metadata.
type Summarizer struct {
	client TextCompleter
}

// NewSummarizer constructs a summarizer.
func NewSummarizer(client TextCompleter) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize returns a non-empty summary.
func (s *Summarizer) Summarize(ctx context.Context, transcript string, annotations []media.FrameAnnotation, meta media.Metadata) (string, error) {
	text, err := s.client.Complete(ctx, summarySystemPrompt, BuildSummaryPrompt(transcript, annotations, meta))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("summary: empty response")
	}
	return text, nil
}

// BuildSummaryPrompt renders the summarizer's user prompt.
func BuildSummaryPrompt(transcript string, annotations []media.FrameAnnotation, meta media.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video: %dx%d %s, %.1f seconds.\n\n", meta.Width, meta.Height, meta.Codec, meta.DurationSeconds)
	b.WriteString("Transcript:\n")
	if t := strings.TrimSpace(transcript); t != "" {
		b.WriteString(t)
	} else {
		b.WriteString("(no speech)")
	}
	b.WriteString("\n\nVisual elements by timestamp:\n")
	if len(annotations) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range annotations {
		elements := "(nothing recognised)"
		if len(a.Elements) > 0 {
			elements = strings.Join(a.Elements, ", ")
		}
		fmt.Fprintf(&b, "- %.1fs: %s\n", a.Timestamp, elements)
	}
	return b.String()
}
