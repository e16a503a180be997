package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sumup/ojs/cde"
)

// Config is read from CDEPROBE_* environment variables. A .env file in the
// working directory is loaded first and never overrides the environment.
type Config struct {
	BaseURL          string        `envconfig:"BASE_URL" required:"true" validate:"required,url"`
	SecureToken      string        `envconfig:"SECURE_TOKEN"`
	PromotionCode    string        `envconfig:"PROMOTION_CODE"`
	HandshakeTimeout time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"5s" validate:"gt=0"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

const envPrefix = "CDEPROBE"

// loadConfig reads the probe configuration. Missing dotenv files are ignored.
func loadConfig(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cde.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
