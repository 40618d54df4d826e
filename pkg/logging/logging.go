// Package logging provides the process-wide structured logger used by every node.
package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
	}
}

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Init builds the global logger from cfg. It may be called more than once; the last call wins.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = level > zapcore.DebugLevel

	logger, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	global.Store(logger)
	return nil
}

// L returns the global logger.
func L() *zap.Logger {
	return global.Load()
}

// Named returns a child of the global logger tagged with name. Nodes use it so every line
// carries the node that emitted it.
func Named(name string) *zap.Logger {
	return global.Load().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

func Debug(msg string, fields ...zap.Field) {
	global.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	global.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	global.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	global.Load().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	global.Load().Fatal(msg, fields...)
}

// Sync flushes buffered log entries.
func Sync() error {
	return global.Load().Sync()
}
