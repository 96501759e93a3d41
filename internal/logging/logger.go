package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger  *zap.Logger
	globalMu      sync.RWMutex
	bootstrapped  bool
)

func init() {
	// No-op until Bootstrap or SetGlobal runs. A production logger with no
	// identifying fields isn't useful on its own; admitgate.New calls
	// Bootstrap with the running gateway's own tunables as soon as one
	// exists, and cmd/admitgated's own stdout logger (via New + SetGlobal)
	// preempts it for anything started as a standalone daemon.
	globalLogger = zap.NewNop()
}

// Bootstrap builds the gateway's default production logger, tags it with
// fields, and installs it as the global logger. It is a no-op (returning
// the existing global logger) if something has already called Bootstrap
// or SetGlobal — so a caller that installs its own logger (see
// cmd/admitgated) isn't overridden by a later, less specific default.
func Bootstrap(fields ...zap.Field) *zap.Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if bootstrapped {
		return globalLogger
	}

	base, _, err := New(Config{Level: "info", Output: "stdout"})
	if err != nil {
		base = zap.NewNop()
	}
	globalLogger = base.With(fields...)
	bootstrapped = true
	return globalLogger
}

// Bootstrapped reports whether Bootstrap or SetGlobal has already
// installed a logger more specific than the package's no-op default.
func Bootstrapped() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return bootstrapped
}

// Config holds parameters for creating a logger.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	Output     string // "stdout", "stderr", or file path
	MaxSize    int    // max megabytes before rotation
	MaxBackups int    // old rotated files to keep
	MaxAge     int    // days to retain old files
	Compress   bool   // gzip rotated files
	LocalTime  bool   // use local time in backup filenames
}

// New creates a new zap logger from a Config.
// When Output is a file path, the returned io.Closer must be closed on shutdown
// to flush and close the underlying log file. For stdout/stderr the closer is nil.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	var lvl zapcore.Level
	switch cfg.Level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var ws zapcore.WriteSyncer
	var closer io.Closer

	switch cfg.Output {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		}
		ws = zapcore.AddSync(lj)
		closer = lj
	}

	core := zapcore.NewCore(encoder, ws, lvl)
	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)

	return logger, closer, nil
}

// Global returns the global logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger. It counts as bootstrapping for
// Bootstrapped's purposes, the same as calling Bootstrap directly.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	bootstrapped = true
	globalMu.Unlock()
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) {
	Global().Info(msg, fields...)
}

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Global().Warn(msg, fields...)
}

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) {
	Global().Error(msg, fields...)
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Global().Debug(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return Global().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	Global().Sync()
}
