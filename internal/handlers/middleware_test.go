package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/services"
)

var testInvocation = handlers.Invocation{JobID: "job-1", Kind: "media-process", Class: "media-processing"}

func TestChainExecutionOrder(t *testing.T) {
	var order []string
	wrap := func(name string) handlers.Middleware {
		return func(ctx context.Context, _ handlers.Invocation, next handlers.Next) (json.RawMessage, error) {
			order = append(order, name+"-before")
			out, err := next(ctx)
			order = append(order, name+"-after")
			return out, err
		}
	}

	chain := handlers.Chain(wrap("mw1"), wrap("mw2"))
	_, err := handlers.Invoke(context.Background(), chain, testInvocation, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		order = append(order, "handler")
		return json.RawMessage(`{}`), nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order = %v, want %v", order, expected)
	}
}

func TestInvokeWithoutChain(t *testing.T) {
	out, err := handlers.Invoke(context.Background(), nil, testInvocation, echo, json.RawMessage(`7`))
	if err != nil || string(out) != "7" {
		t.Fatalf("unexpected %s %v", out, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	mw := handlers.Recover(logging.NewNop())
	out, err := mw(context.Background(), testInvocation, func(context.Context) (json.RawMessage, error) {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil result, got %s", out)
	}
}

func TestTimeoutMarksDeadline(t *testing.T) {
	mw := handlers.Timeout(logging.NewNop())
	inv := testInvocation
	inv.Timeout = 20 * time.Millisecond

	_, err := mw(context.Background(), inv, func(ctx context.Context) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if services.KindOf(err) != services.KindTimeout {
		t.Fatalf("expected timeout kind, got %s", services.KindOf(err))
	}
}

func TestTimeoutZeroIsPassThrough(t *testing.T) {
	mw := handlers.Timeout(logging.NewNop())
	_, err := mw(context.Background(), testInvocation, func(ctx context.Context) (json.RawMessage, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("did not expect a deadline")
		}
		return json.RawMessage(`1`), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefaultChainRecoversPanics(t *testing.T) {
	chain := handlers.DefaultChain(logging.NewNop())
	_, err := handlers.Invoke(context.Background(), chain, testInvocation, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("bad handler")
	}, nil)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}
