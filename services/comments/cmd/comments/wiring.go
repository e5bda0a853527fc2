package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/gouravdev246/anonymous-comment/internal/platform/db"
	"github.com/gouravdev246/anonymous-comment/internal/platform/logging"
	"github.com/gouravdev246/anonymous-comment/internal/platform/natsconn"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/config"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/images"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/source"
	"github.com/gouravdev246/anonymous-comment/services/comments/internal/syncengine"
)

func loadConfig() (config.Config, *zap.Logger, error) {
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "comments")
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName, cfg.Development())
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// backends holds every connection the process opened so they can be closed
// in one place.
type backends struct {
	pool      *pgxpool.Pool
	nc        *nats.Conn
	source    source.Source
	snapshots syncengine.SnapshotStore
	uploader  *images.S3Uploader
	closers   []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// ready reports whether the database, when there is one, answers.
func (b *backends) ready() error {
	if b.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.pool.Ping(ctx)
}

// openBackends connects whatever the configuration names. Postgres falls back
// to an in-process store, NATS to an in-process feed and Redis to no
// snapshots, so a bare `comments serve` runs with no infrastructure.
func openBackends(ctx context.Context, cfg config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{snapshots: syncengine.NopSnapshots{}}

	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory comment store")
		b.source = source.NewMemory(syncengine.Seed(time.Now().UTC())...)
	} else {
		pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.closers = append(b.closers, pool.Close)

		var feed source.Feed = source.NewLocalFeed()
		if cfg.NATSURL != "" {
			nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log})
			if err != nil {
				b.Close()
				return nil, err
			}
			b.nc = nc
			b.closers = append(b.closers, nc.Close)
			feed = source.NewNATSFeed(nc, cfg.NATSSubject, log)
		} else {
			log.Warn("NATS_URL not set, change feed only covers this process")
		}
		b.source = source.NewPostgres(pool, feed, log)
	}

	if cfg.RedisURL != "" {
		snaps, err := syncengine.NewRedisSnapshots(cfg.RedisURL, cfg.SnapshotKey, cfg.SnapshotTTL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.snapshots = snaps
		b.closers = append(b.closers, func() { _ = snaps.Close() })
	}

	if cfg.Storage.Enabled() {
		up, err := newUploader(ctx, cfg.Storage, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.uploader = up
	}
	return b, nil
}

var errStorageDisabled = errors.New("S3_ENDPOINT is not set")

func newUploader(ctx context.Context, sc config.StorageConfig, log *zap.Logger) (*images.S3Uploader, error) {
	if !sc.Enabled() {
		return nil, errStorageDisabled
	}
	return images.NewS3Uploader(ctx, images.S3Options{
		Endpoint:  sc.Endpoint,
		PublicURL: sc.PublicURL,
		Bucket:    sc.Bucket,
		Region:    sc.Region,
		Credential: aws.Credentials{
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
		},
		MaxBytes:         sc.MaxImageBytes,
		FailureThreshold: sc.FailureThreshold,
		BreakerTimeout:   sc.BreakerTimeout,
	}, log)
}
