// Package logger builds the zap loggers the binaries share.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func level(debugMode bool) zap.AtomicLevel {
	if debugMode {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel)
}

// NewProductionLogger returns a JSON logger with ISO8601 timestamps and
// stack traces on error-level entries.
func NewProductionLogger(debugMode bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level(debugMode)
	cfg.Encoding = "json"
	cfg.DisableStacktrace = false

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncoderConfig = enc

	return cfg.Build()
}

// NewDevelopmentLogger returns a console-encoded logger for local runs.
func NewDevelopmentLogger(debugMode bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level(debugMode)
	return cfg.Build()
}

// Sync flushes buffered entries. Safe on a nil logger and safe to call more
// than once, so deferring it at every exit path is fine.
func Sync(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}
