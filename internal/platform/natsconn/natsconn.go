// Package natsconn opens the NATS connection that carries the comment
// change feed between service replicas.
package natsconn

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultURL = "nats://127.0.0.1:4222"

// Options configures the connection. Zero values fall back to env vars or
// built-in defaults.
type Options struct {
	URL           string
	Name          string
	MaxReconnects int           // NATS_MAX_RECONNECTS or 5
	ReconnectWait time.Duration // NATS_RECONNECT_WAIT or 2s
	Timeout       time.Duration
	Logger        *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = strings.TrimSpace(os.Getenv("NATS_URL"))
		if o.URL == "" {
			o.URL = DefaultURL
		}
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = envInt("NATS_MAX_RECONNECTS", 5)
	}
	if o.ReconnectWait == 0 {
		o.ReconnectWait = envDuration("NATS_RECONNECT_WAIT", 2*time.Second)
	}
	if o.Timeout == 0 {
		o.Timeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Connect dials NATS once and fails fast; reconnects only apply after the
// first successful connection.
func Connect(opts Options) (*nats.Conn, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.Timeout),
		nats.RetryOnFailedConnect(false),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
