package config

import (
	"io"
	"log/slog"
	"strings"
)

// SetupLogging installs a JSON slog handler writing to w at the given level.
func SetupLogging(w io.Writer, level string) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
