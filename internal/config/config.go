// Package config loads the runtime configuration of the clipping service
// from the environment and builds its logger.
//
// Loading happens in three steps:
//  1. Load a .env file via godotenv (non-fatal if absent).
//  2. Populate Config from environment variables with envconfig.
//  3. Validate the result with go-playground/validator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds every setting of the server and the CLI.
type Config struct {
	Port       string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	DataDir    string `envconfig:"DATA_DIR" default:"./data" validate:"required"`
	OutputDir  string `envconfig:"OUTPUT_DIR" default:"./data/clips" validate:"required"`
	ArchiveDir string `envconfig:"ARCHIVE_DIR" default:"./data/archives" validate:"required"`

	// CORSAllowedOrigins is a comma-separated list; empty allows all.
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	BatchWorkers int `envconfig:"BATCH_WORKERS" default:"0" validate:"gte=0,lte=64"`
	MaxUploadMB  int `envconfig:"MAX_UPLOAD_MB" default:"64" validate:"gt=0"`
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ConfigErrorType categorizes configuration failures.
type ConfigErrorType string

const (
	// ErrParsing means an environment value could not be converted.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation means the populated Config broke a validation rule.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is returned by Load.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads and validates the configuration.
func Load() (*Config, error) {
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "invalid log level", Err: err}
	}
	log := logrus.New()
	log.Out = os.Stderr
	log.Level = level
	switch cfg.LogFormat {
	case "json":
		log.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	default:
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano}
	}
	return log, nil
}
