// Package logging owns the process-wide zap logger. The CLI configures it
// once at startup; library packages log through the package helpers and
// never carry a logger of their own.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// Config selects the level and encoding of the process logger.
type Config struct {
	Level  string // debug, info, warn or error; anything else falls back to info
	Format string // "console" for human-readable output, json otherwise
}

// Init builds the process logger from cfg. Processes that never call Init
// (tests, embedders) get a production logger on first use instead.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// L returns the process logger, lazily building the default.
func L() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return logger
}

// Sync flushes buffered entries. Called on shutdown.
func Sync() error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}

// Debug logs at debug level.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs at info level.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs at warn level.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs at error level.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}
