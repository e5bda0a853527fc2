// Package config loads the settings every service process shares.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type HTTPConfig struct {
	Addr        string
	CORSOrigins string
}

type AppConfig struct {
	ServiceName string
	Env         string
	LogLevel    string
	HTTP        HTTPConfig
}

// Development reports whether the process runs outside production.
func (c AppConfig) Development() bool {
	return c.Env == "development" || c.Env == "dev" || c.Env == "local"
}

// LoadDotenv reads the given files (".env" when none are named) into the
// process environment. Missing files are ignored and variables that are
// already set win.
func LoadDotenv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: Env("SERVICE_NAME"),
		Env:         strings.ToLower(Env("APP_ENV")),
		LogLevel:    Env("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Addr:        Env("HTTP_ADDR"),
			CORSOrigins: Env("CORS_ALLOWED_ORIGINS"),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.Env == "" {
		cfg.Env = "production"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// Env returns the trimmed value of key.
func Env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
