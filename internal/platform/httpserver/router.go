package httpserver

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/api"
)

type RouterConfig struct {
	// ReadyFunc backs /readyz. Nil means always ready.
	ReadyFunc func() error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// CORSOrigins is a comma separated allow list; empty falls back to
	// CORS_ALLOWED_ORIGINS and then "*".
	CORSOrigins string
	Logger      *zap.Logger
}

// SetupRouter attaches base middlewares and common endpoints.
// IMPORTANT: must be called before registering any routes.
func SetupRouter(r chi.Router, cfgs ...RouterConfig) {
	var cfg RouterConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	origins := cfg.CORSOrigins
	if strings.TrimSpace(origins) == "" {
		origins = os.Getenv("CORS_ALLOWED_ORIGINS")
	}

	r.Use(RequestIDMiddleware("X-Request-Id"))
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(AccessLog(cfg.Logger))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(origins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", "X-Request-Id"},
		ExposedHeaders:   []string{"ETag", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadyFunc != nil {
			if err := cfg.ReadyFunc(); err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), RequestIDFromContext(r.Context()), nil)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
}

func parseCORSOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// AccessLog logs one line per request at debug level, or warn for 5xx.
func AccessLog(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestIDFromContext(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				log.Warn("http request", fields...)
				return
			}
			log.Debug("http request", fields...)
		})
	}
}
