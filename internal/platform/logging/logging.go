package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON logger tagged with the service name. Development mode
// switches to the console encoder.
func New(level, service string, development bool) (*zap.Logger, error) {
	lvl := ParseLevel(level)

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
	} else {
		cfg.Encoding = "json"
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if service != "" {
		log = log.With(zap.String("service", service))
	}
	return log, nil
}

// ParseLevel falls back to info on anything unrecognised.
func ParseLevel(level string) zapcore.Level {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
