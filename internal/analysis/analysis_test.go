package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"framewise/internal/media"
)

type fakeDescriber struct {
	replies map[string]string
	err     error
	paths   []string
}

func (f *fakeDescriber) DescribeImage(_ context.Context, _, _, path string) (string, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return "", f.err
	}
	return f.replies[path], nil
}

func TestVisionAnalyzeKeepsFrameOrder(t *testing.T) {
	client := &fakeDescriber{replies: map[string]string{
		"a.jpg": `{"elements":["Person"," laptop ","person"]}`,
		"b.jpg": "```json\n{\"elements\":[]}\n```",
	}}
	frames := []media.Frame{{Index: 0, Timestamp: 5, Path: "a.jpg"}, {Index: 1, Timestamp: 10, Path: "b.jpg"}}

	got, err := NewVision(client, nil).Analyze(context.Background(), frames)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got) != 2 || got[0].Timestamp != 5 || got[1].Timestamp != 10 {
		t.Fatalf("unexpected annotations %+v", got)
	}
	if strings.Join(got[0].Elements, ",") != "person,laptop" {
		t.Fatalf("unexpected elements %v", got[0].Elements)
	}
	if got[1].Elements == nil || len(got[1].Elements) != 0 {
		t.Fatalf("expected empty element list, got %#v", got[1].Elements)
	}
}

func TestVisionAnalyzeFailsOnClientError(t *testing.T) {
	client := &fakeDescriber{err: errors.New("http 500")}
	_, err := NewVision(client, nil).Analyze(context.Background(), []media.Frame{{Path: "a.jpg"}})
	if err == nil || !strings.Contains(err.Error(), "frame 0") {
		t.Fatalf("expected frame error, got %v", err)
	}
}

type fakeCompleter struct {
	reply  string
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.prompt = user
	return f.reply, nil
}

func TestSummarizerBuildsPrompt(t *testing.T) {
	client := &fakeCompleter{reply: "  A demo of the new dashboard.  "}
	meta := media.Metadata{Width: 1280, Height: 720, Codec: "h264", DurationSeconds: 30}
	notes := []media.FrameAnnotation{{Timestamp: 5, Elements: []string{"chart"}}, {Timestamp: 10}}

	got, err := NewSummarizer(client).Summarize(context.Background(), "hello world", notes, meta)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A demo of the new dashboard." {
		t.Fatalf("unexpected summary %q", got)
	}
	for _, want := range []string{"1280x720 h264", "hello world", "- 5.0s: chart", "- 10.0s: (nothing recognised)"} {
		if !strings.Contains(client.prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, client.prompt)
		}
	}
}

func TestSummarizerRejectsEmptyReply(t *testing.T) {
	if _, err := NewSummarizer(&fakeCompleter{reply: " "}).Summarize(context.Background(), "", nil, media.Metadata{}); err == nil {
		t.Fatal("expected empty summary error")
	}
	prompt := BuildSummaryPrompt("", nil, media.Metadata{})
	if !strings.Contains(prompt, "(no speech)") || !strings.Contains(prompt, "(none)") {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}
