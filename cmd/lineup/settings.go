package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/kitchen"
)

// settings is everything the commands need, filled from the environment
// and then overridden by flags. Unset or empty variables keep the default.
type settings struct {
	Addr string `env:"LINEUP_ADDR"`

	Concurrency int           `env:"LINEUP_CONCURRENCY"`
	RateMax     int           `env:"LINEUP_RATE_MAX"`
	RateWindow  time.Duration `env:"LINEUP_RATE_WINDOW"`
	MaxAttempts int           `env:"LINEUP_MAX_ATTEMPTS"`
	Requeue     string        `env:"LINEUP_REQUEUE"`

	StepDelay   time.Duration `env:"LINEUP_STEP_DELAY"`
	FailureRate float64       `env:"LINEUP_FAILURE_RATE"`
	Seed        uint64        `env:"LINEUP_SEED"`
	Batch       int           `env:"LINEUP_BATCH"`

	CleanupSchedule string        `env:"LINEUP_CLEANUP_SCHEDULE"`
	CleanupAge      time.Duration `env:"LINEUP_CLEANUP_AGE"`

	LogFormat string `env:"LINEUP_LOG_FORMAT"`
	LogLevel  string `env:"LINEUP_LOG_LEVEL"`

	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     string `env:"REDIS_PORT"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisPrefix   string `env:"LINEUP_REDIS_PREFIX"`
}

func defaultSettings() settings {
	cfg := lineup.DefaultConfig()
	return settings{
		Addr:        ":3000",
		Concurrency: cfg.Concurrency,
		RateMax:     cfg.RateMax,
		RateWindow:  cfg.RateWindow,
		MaxAttempts: kitchen.DemoMaxAttempts,
		Requeue:     "tail",
		StepDelay:   kitchen.DefaultStepDelay,
		FailureRate: kitchen.DefaultFailureRate,
		Batch:       10,
		CleanupAge:  cfg.CleanupAge,
		LogFormat:   "text",
		LogLevel:    "info",
		RedisPort:   "6379",
		RedisPrefix: "lineup:burger:",
	}
}

// settingsFromEnv overlays LINEUP_* and REDIS_* variables on the defaults.
// A nil environ reads the process environment.
func settingsFromEnv(environ map[string]string) (settings, error) {
	s := defaultSettings()
	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return s, fmt.Errorf("%w: %w", lineup.ErrInvalidOption, err)
	}
	return s, nil
}

// newLogger builds a text or JSON slog handler at the configured level.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", lineup.ErrInvalidOption, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", lineup.ErrInvalidOption, format)
	}
}
