package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Server struct {
	HTTP *http.Server
	log  *zap.Logger
}

type Options struct {
	Addr   string
	Logger *zap.Logger
	Router chi.Router
}

func New(opts Options) *Server {
	if opts.Router == nil {
		opts.Router = chi.NewRouter()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           opts.Router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(opts.Logger),
	}
	return &Server{HTTP: srv, log: opts.Logger}
}

// Start serves until ctx is done or the listener fails. A shutdown
// triggered through Shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.HTTP.BaseContext = func(net.Listener) context.Context { return ctx }
	s.log.Info("http server starting", zap.String("addr", s.HTTP.Addr))
	err := s.HTTP.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server stopping")
	return s.HTTP.Shutdown(ctx)
}
