package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/auth"
	"github.com/gouravdev246/anonymous-comment/internal/platform/httpserver"
	"github.com/gouravdev246/anonymous-comment/internal/platform/metrics"
	"github.com/gouravdev246/anonymous-comment/internal/platform/run"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/handlers"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/source"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/syncengine"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the comment API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			code := serve(cmd.Context(), migrate)
			if code != 0 {
				run.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func serve(ctx context.Context, migrate bool) int {
	cfg, log, err := loadConfig()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		log.Error("open backends", zap.Error(err))
		return 1
	}
	defer b.Close()

	if migrate && b.pool != nil {
		if err := source.Migrate(ctx, b.pool); err != nil {
			log.Error("migrate", zap.Error(err))
			return 1
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineOpts := []syncengine.Option{
		syncengine.WithLogger(log.Named("sync")),
		syncengine.WithSnapshots(b.snapshots),
		syncengine.WithMetrics(metrics.NewSync(reg)),
		syncengine.WithSettleDelay(cfg.SettleDelay),
	}
	if b.uploader != nil {
		engineOpts = append(engineOpts, syncengine.WithUploader(b.uploader))
	}
	engine := syncengine.New(b.source, engineOpts...)

	var moderator func(next http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		moderator = auth.RequireModerator(auth.Verifier{Secret: []byte(cfg.JWTSecret)})
	} else {
		log.Warn("JWT_SECRET not set, DELETE /v1/comments is unauthenticated")
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc:   b.ready,
		Metrics:     metrics.Handler(reg),
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      log,
	})
	handlers.New(engine, handlers.Options{
		MaxTextChars:  cfg.MaxTextChars,
		MaxImageBytes: cfg.Storage.MaxImageBytes,
		Moderator:     moderator,
		Logger:        log.Named("http"),
	}).Routes(r)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if err := engine.Start(ctx); err != nil {
			return err
		}
		return srv.Start(ctx)
	}, func(context.Context) error {
		engine.Close()
		return nil
	}, srv.Shutdown)

	log.Info("exit", zap.Int("code", code))
	return code
}
