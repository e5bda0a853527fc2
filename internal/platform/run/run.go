package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log, ShutdownTimeout: 10 * time.Second}
}

// WithSignals runs start until it returns or SIGINT/SIGTERM arrives, then
// calls every shutdown hook in reverse order. It returns the process exit
// code.
func (r *Runner) WithSignals(start func(ctx context.Context) error, shutdown ...func(context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.run(ctx, start, shutdown...)
}

func (r *Runner) run(ctx context.Context, start func(ctx context.Context) error, shutdown ...func(context.Context) error) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	code := 0
	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Error("service exited with error", zap.Error(err))
			code = 1
		}
	}
	r.Graceful(shutdown...)
	return code
}

// Graceful runs the hooks last-registered first under one shared timeout.
func (r *Runner) Graceful(shutdown ...func(context.Context) error) {
	timeout := r.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for i := len(shutdown) - 1; i >= 0; i-- {
		if err := shutdown[i](c); err != nil {
			r.Logger.Warn("shutdown hook failed", zap.Error(err))
		}
	}
}

func Exit(code int) {
	os.Exit(code)
}
