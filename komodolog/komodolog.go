// Package komodolog provides the structured logger used throughout
// komodo: a message plus alternating key/value pairs
// (log.Info(msg, "key", val, ...)) rather than printf-style formatting.
package komodolog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logger handed to Store and Collection. The
// zero value is not usable; construct one with New or Nop.
type Logger struct {
	z *zap.SugaredLogger
}

// Config controls where log output goes and how it rotates.
type Config struct {
	// Filename, if non-empty, is a log file rotated via lumberjack.
	// An empty Filename logs to stderr instead.
	Filename string
	// MaxSizeMb is the size in megabytes at which the log file
	// rotates.
	MaxSizeMb int
	// MaxBackups is the number of rotated files retained.
	MaxBackups int
	// Debug enables debug-level output; otherwise info and above.
	Debug bool
}

// New builds a Logger per cfg.
func New(cfg Config) *Logger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if cfg.Filename != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMb,
			MaxBackups: cfg.MaxBackups,
		})
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, level)
	return &Logger{z: zap.New(core).Sugar()}
}

// Nop returns a Logger that discards everything, for tests and
// default construction where the caller doesn't configure logging.
func Nop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// With returns a Logger that includes the given key/value pairs on
// every subsequent call.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{z: l.z.With(keysAndValues...)}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.z.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.z.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.z.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.z.Errorw(msg, keysAndValues...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
