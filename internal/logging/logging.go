// Package logging configures structured logging for the cidx daemon and
// standalone tools: a JSON handler over a size-rotated file, optionally
// mirrored to stderr, leveled via CIDX_LOG_LEVEL.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelEnv is the environment variable controlling the minimum log level.
const LevelEnv = "CIDX_LOG_LEVEL"

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (error|warn|info|debug).
	Level string
	// FilePath is the path to the log file. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr also writes to stderr when true.
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults for file logging at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Level:         levelFromEnv(),
		FilePath:      DefaultLogPath(dataDir),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

func levelFromEnv() string {
	if lvl := os.Getenv(LevelEnv); lvl != "" {
		return lvl
	}
	return "info"
}

// Setup initializes file-based logging and returns the configured logger
// plus a cleanup function that must be called to flush and close the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		return slog.Default(), func() {}, nil
	}

	if err := EnsureLogDir(cfg.FilePath); err != nil {
		return nil, nil, err
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	logger := slog.New(handler)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return logger, cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
