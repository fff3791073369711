// Package telemetry wires the engine's structured logging and metrics the
// way the rest of this codebase does: log/slog for logs, OpenTelemetry for
// metrics and tracing.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the global slog logger. WEAVER_JSON_LOG=1/true
// selects JSON output; otherwise text. WEAVER_LOG_LEVEL selects the
// minimum level (debug/info/warn/error, default info).
func InitLogging(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("WEAVER_JSON_LOG"))
	opts := &slog.HandlerOptions{Level: levelFromEnv()}

	var handler slog.Handler
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", mode == "1" || mode == "true" || mode == "json")
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("WEAVER_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
