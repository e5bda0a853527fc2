// Package config reads the comments service settings from the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	platform "github.com/gouravdev246/anonymous-comment/internal/platform/config"
)

// Config extends the shared AppConfig with the backends of the comment
// sync engine. Every backend is optional: an empty URL selects the
// in-process fallback.
type Config struct {
	platform.AppConfig

	DatabaseURL  string
	DBMaxConns   int32
	NATSURL      string
	NATSSubject  string
	RedisURL     string
	SnapshotKey  string
	SnapshotTTL  time.Duration
	JWTSecret    string
	SettleDelay  time.Duration
	MaxTextChars int
	Storage      StorageConfig
}

type StorageConfig struct {
	Endpoint         string
	PublicURL        string
	Bucket           string
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	MaxImageBytes    int64
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// Enabled reports whether an object store is configured.
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != ""
}

func Load() (Config, error) {
	base, err := platform.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		AppConfig:   base,
		DatabaseURL: platform.Env("DATABASE_URL"),
		NATSURL:     platform.Env("NATS_URL"),
		NATSSubject: orDefault(platform.Env("NATS_SUBJECT_PREFIX"), "comments.changes"),
		RedisURL:    platform.Env("REDIS_URL"),
		SnapshotKey: orDefault(platform.Env("SNAPSHOT_KEY"), "comments:view"),
		JWTSecret:   platform.Env("JWT_SECRET"),
		Storage: StorageConfig{
			Endpoint:        platform.Env("S3_ENDPOINT"),
			PublicURL:       platform.Env("S3_PUBLIC_URL"),
			Bucket:          orDefault(platform.Env("S3_BUCKET"), "public"),
			Region:          orDefault(platform.Env("S3_REGION"), "us-east-1"),
			AccessKeyID:     platform.Env("S3_ACCESS_KEY_ID"),
			SecretAccessKey: platform.Env("S3_SECRET_ACCESS_KEY"),
		},
	}

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	var n int64
	n, err = envInt("DB_MAX_CONNS", 10)
	collect(err)
	cfg.DBMaxConns = int32(n)
	n, err = envInt("MAX_TEXT_CHARS", 5000)
	collect(err)
	cfg.MaxTextChars = int(n)
	cfg.Storage.MaxImageBytes, err = envInt("S3_MAX_IMAGE_BYTES", 5<<20)
	collect(err)
	n, err = envInt("S3_FAILURE_THRESHOLD", 3)
	collect(err)
	cfg.Storage.FailureThreshold = uint32(n)
	cfg.Storage.BreakerTimeout, err = envDuration("S3_BREAKER_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.SettleDelay, err = envDuration("SETTLE_DELAY", 500*time.Millisecond)
	collect(err)
	cfg.SnapshotTTL, err = envDuration("SNAPSHOT_TTL", 24*time.Hour)
	collect(err)

	if cfg.Storage.Enabled() && cfg.Storage.PublicURL == "" {
		cfg.Storage.PublicURL = cfg.Storage.Endpoint
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int64) (int64, error) {
	v := platform.Env(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := platform.Env(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration like 500ms", key)
	}
	return d, nil
}
