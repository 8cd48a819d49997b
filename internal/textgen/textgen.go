// Package textgen registers the text-generation job kinds. Each handler turns
// a video summary plus free-form notes into a single LLM completion.
package textgen

import (
	"context"
	"strings"

	"framewise/internal/config"
	"framewise/internal/handlers"
	"framewise/internal/services"
)

// Completer is the subset of the LLM client the handlers need.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Input is the payload of both text-generation kinds.
type Input struct {
	Summary string `json:"summary"`
	Notes   string `json:"notes,omitempty"`
}

// Output is the result of both text-generation kinds.
type Output struct {
	Text string `json:"text"`
}

const (
	specificationPrompt = "Draft a short product specification from the video summary and notes. Use plain text with headed sections."
	tasksPrompt         = "Break the video summary and notes into an ordered list of concrete engineering tasks, one per line."
)

// Register binds generate-specification and generate-tasks to client.
func Register(reg *handlers.Registry, client Completer) error {
	if err := handlers.RegisterTyped(reg, config.KindGenerateSpecification, handler(config.KindGenerateSpecification, specificationPrompt, client)); err != nil {
		return err
	}
	return handlers.RegisterTyped(reg, config.KindGenerateTasks, handler(config.KindGenerateTasks, tasksPrompt, client))
}

func handler(kind, systemPrompt string, client Completer) func(context.Context, Input) (Output, error) {
	return func(ctx context.Context, in Input) (Output, error) {
		summary := strings.TrimSpace(in.Summary)
		if summary == "" {
			return Output{}, services.Wrap(services.ErrValidation, kind, "validate", "summary is required", nil)
		}
		user := "Summary:\n" + summary
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			user += "\n\nNotes:\n" + notes
		}
		services.Heartbeat(ctx)
		text, err := client.Complete(ctx, systemPrompt, user)
		if err != nil {
			return Output{}, services.WrapStage(ctx, services.ErrCollaborator, kind, "complete", "llm call failed", err)
		}
		return Output{Text: strings.TrimSpace(text)}, nil
	}
}
