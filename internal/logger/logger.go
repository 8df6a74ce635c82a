package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alkime/companion/internal/config"
)

// SetupLogger configures structured logging based on environment.
func SetupLogger(cfg *config.Config) *slog.Logger {
	return setup(cfg, os.Stdout)
}

// SetupFileLogger configures logging to cfg.LogFile, for commands that own
// the terminal. The returned closer releases the file.
func SetupFileLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return setup(cfg, f), f, nil
}

func setup(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := slog.New(NewHandler(cfg, w))

	// Set as default logger
	slog.SetDefault(logger)

	return logger
}

// NewHandler builds the slog handler selected by cfg.
func NewHandler(cfg *config.Config, w io.Writer) slog.Handler {
	//nolint:exhaustruct // Using default values for other HandlerOptions fields
	opts := &slog.HandlerOptions{Level: Level(cfg)}

	if cfg.LogFormat == "json" || cfg.Env == config.EnvProduction {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// Level resolves the minimum log level.
func Level(cfg *config.Config) slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if cfg.Env == "development" {
		return slog.LevelDebug
	}

	return slog.LevelInfo
}
