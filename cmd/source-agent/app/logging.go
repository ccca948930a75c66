package app

import (
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/headerkit/source-agent/internal/config"
)

// LogLevelFromEnv parses SOURCE_AGENT_LOG_LEVEL, falling back to LOG_LEVEL.
// Defaults to slog.LevelInfo if neither is set or if the value is invalid.
func LogLevelFromEnv() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	return parseLevel(levelStr)
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

// SetupLogging installs a JSON zap logger on stderr as the slog default.
// Stdout stays clean for commands that print data.
func SetupLogging(level slog.Level) {
	zapCfg := zap.NewProductionConfig()
	// zapr hands slog levels below info to zap unchanged, so debug is zap level -4
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(level))
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := zapCfg.Build()
	if err != nil {
		slog.Error("Failed to build logger, keeping default", "error", err)
		return
	}

	handler := logr.ToSlogHandler(zapr.NewLogger(zl))
	slog.SetDefault(slog.New(handler))
}
