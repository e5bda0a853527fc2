package run

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestRun_StartError(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	var order []string
	code := r.run(context.Background(),
		func(context.Context) error { return errors.New("boom") },
		func(context.Context) error { order = append(order, "first"); return nil },
		func(context.Context) error { order = append(order, "second"); return errors.New("ignored") },
	)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected hooks in reverse order, got %v", order)
	}
}

func TestRun_ServerClosedIsClean(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	code := r.run(context.Background(), func(context.Context) error { return http.ErrServerClosed })
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	code := r.run(ctx,
		func(ctx context.Context) error { <-ctx.Done(); return nil },
		func(context.Context) error { called = true; return nil },
	)
	if code != 0 || !called {
		t.Fatalf("expected clean shutdown with hook, got code=%d called=%v", code, called)
	}
}
