package telemetry

import (
	"context"
	"log/slog"
	"testing"
)

func TestLevelFromEnvDefaultsToInfo(t *testing.T) {
	t.Setenv("WEAVER_LOG_LEVEL", "")
	if got := levelFromEnv(); got != slog.LevelInfo {
		t.Fatalf("expected default level Info, got %v", got)
	}
}

func TestLevelFromEnvHonorsEachLevel(t *testing.T) {
	cases := map[string]slog.Leveler{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"DEBUG": slog.LevelDebug,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("WEAVER_LOG_LEVEL", raw)
			if got := levelFromEnv(); got != want {
				t.Fatalf("levelFromEnv(%q) = %v, want %v", raw, got, want)
			}
		})
	}
}

func TestInitLoggingReturnsUsableLogger(t *testing.T) {
	t.Setenv("WEAVER_JSON_LOG", "true")
	t.Setenv("WEAVER_LOG_LEVEL", "debug")

	logger := InitLogging("weaver-test")
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level to be enabled per WEAVER_LOG_LEVEL=debug")
	}
}
