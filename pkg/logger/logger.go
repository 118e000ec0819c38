package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseLogger *zap.Logger
	atomicLVL  zap.AtomicLevel
)

func init() {
	atomicLVL = zap.NewAtomicLevelAt(parseLevel(getEnv("ECHO_LOG_LEVEL", "info")))
	cfg := zap.Config{
		Level:       atomicLVL,
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		l = zap.NewNop()
	}
	baseLogger = l
}

// L 返回进程级 logger
func L() *zap.Logger { return baseLogger }

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.Logger { return baseLogger.Named(component) }

func SetLevel(level string) { atomicLVL.SetLevel(parseLevel(level)) }

// Sync flushes buffered entries.
func Sync() error { return baseLogger.Sync() }

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
