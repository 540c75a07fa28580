package config

import (
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no .env file is
// picked up.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATA_DIR", "OUTPUT_DIR", "ARCHIVE_DIR", "CORS_ALLOWED_ORIGINS",
		"LOG_LEVEL", "LOG_FORMAT", "BATCH_WORKERS", "MAX_UPLOAD_MB"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "./data/clips", cfg.OutputDir)
	assert.Equal(t, "./data/archives", cfg.ArchiveDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 0, cfg.BatchWorkers)
	assert.Equal(t, 64, cfg.MaxUploadMB)
	assert.Nil(t, cfg.AllowedOrigins())
}

func TestLoad_Environment(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("OUTPUT_DIR", "/srv/clips")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("BATCH_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "/srv/clips", cfg.OutputDir)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.Equal(t, 4, cfg.BatchWorkers)
}

func TestLoad_DotEnv(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("DATA_DIR=/mnt/cams\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("DATA_DIR")
		_ = os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/cams", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		typ  ConfigErrorType
	}{
		{"workers not a number", "BATCH_WORKERS", "many", ErrParsing},
		{"port not numeric", "PORT", "http", ErrValidation},
		{"unknown log level", "LOG_LEVEL", "verbose", ErrValidation},
		{"unknown log format", "LOG_FORMAT", "xml", ErrValidation},
		{"too many workers", "BATCH_WORKERS", "1000", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.typ, cerr.Type)
		})
	}
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&Config{LogLevel: "debug", LogFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = NewLogger(&Config{LogLevel: "warn", LogFormat: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.Level)
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	_, err = NewLogger(&Config{LogLevel: "loud"})
	assert.Error(t, err)
}
