package core

import (
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// LogConfig configures the process-wide slog default handler, exactly
// as mirrorctl's internal/mirror/config.go LogConfig does. Only
// cmd/repoget calls Apply; library code never touches slog's global
// state itself.
type LogConfig struct {
	Level  string `toml:"level" env:"REPOGET_LOG_LEVEL"`
	Format string `toml:"format" env:"REPOGET_LOG_FORMAT"`
}

// Apply installs a slog default logger matching Level/Format.
func (lc *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.Newf("unknown log level %q", lc.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(lc.Format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return errors.Newf("unknown log format %q", lc.Format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// ShouldShowProgress reports whether the configured level permits
// interactive progress output (suppressed once quieted to warn/error).
func (lc *LogConfig) ShouldShowProgress() bool {
	switch strings.ToLower(lc.Level) {
	case "warn", "warning", "error":
		return false
	default:
		return true
	}
}
