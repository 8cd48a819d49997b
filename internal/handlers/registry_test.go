package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"framewise/internal/handlers"
	"framewise/internal/services"
)

func echo(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}

func TestRegisterAndResolve(t *testing.T) {
	reg := handlers.NewRegistry()
	if err := reg.Register("media-process", echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h, ok := reg.Resolve("media-process")
	if !ok {
		t.Fatal("expected handler to resolve")
	}
	out, err := h(context.Background(), json.RawMessage(`{"a":1}`))
	if err != nil || string(out) != `{"a":1}` {
		t.Fatalf("unexpected handler output %s %v", out, err)
	}
	if _, ok := reg.Resolve("generate-tasks"); ok {
		t.Fatal("unregistered kind should not resolve")
	}
}

func TestRegisterRejectsDuplicatesAndLateRegistration(t *testing.T) {
	reg := handlers.NewRegistry()
	if err := reg.Register("x", echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("x", echo); !errors.Is(err, services.ErrRegistry) {
		t.Fatalf("expected duplicate to be rejected, got %v", err)
	}
	reg.Freeze()
	if err := reg.Register("y", echo); !errors.Is(err, services.ErrRegistry) {
		t.Fatalf("expected frozen registry to reject, got %v", err)
	}
	if kinds := reg.Kinds(); len(kinds) != 1 || kinds[0] != "x" {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	reg := handlers.NewRegistry()
	if err := reg.Register("  ", echo); err == nil {
		t.Fatal("expected blank kind to be rejected")
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected nil handler to be rejected")
	}
}

type specInput struct {
	Summary string `json:"summary"`
}

type specOutput struct {
	Text string `json:"text"`
}

func TestRegisterTypedDecodesAndEncodes(t *testing.T) {
	reg := handlers.NewRegistry()
	err := handlers.RegisterTyped(reg, "generate-specification", func(_ context.Context, in specInput) (specOutput, error) {
		return specOutput{Text: "spec for " + in.Summary}, nil
	})
	if err != nil {
		t.Fatalf("RegisterTyped: %v", err)
	}
	h, _ := reg.Resolve("generate-specification")

	out, err := h(context.Background(), json.RawMessage(`{"summary":"demo"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != `{"text":"spec for demo"}` {
		t.Fatalf("unexpected result %s", out)
	}

	if _, err := h(context.Background(), json.RawMessage(`[1,2]`)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad payload, got %v", err)
	}
}
