package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger on top of a sugared zap logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewZapLogger builds a logger for the given level and format.
// Format "text" or "console" selects the human readable development encoder,
// anything else produces JSON lines.
func NewZapLogger(level, format string) (*ZapLogger, error) {
	atom := zap.NewAtomicLevelAt(toZapLevel(ParseLevel(level)))

	var cfg zap.Config
	if format == "text" || format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.Level = atom
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapLogger{sugar: base.Sugar(), level: atom}, nil
}

// NewFromZap wraps an existing zap logger. Used by tests with an observer core.
func NewFromZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{
		sugar: base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

// NewDefaultLogger creates a logger configured from LOG_LEVEL and LOG_FORMAT.
// It never fails; a broken configuration degrades to a no-op logger.
func NewDefaultLogger() Logger {
	l, err := NewZapLogger(GetLogLevel(), os.Getenv("LOG_FORMAT"))
	if err != nil {
		return &NoOpLogger{}
	}
	return l
}

// Debug logs a debug message
func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.sugar.Debugw(msg, normalize(fields)...)
	}
}

// Info logs an info message
func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.sugar.Infow(msg, normalize(fields)...)
	}
}

// Warn logs a warning message
func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.sugar.Warnw(msg, normalize(fields)...)
	}
}

// Error logs an error message
func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.sugar.Errorw(msg, normalize(fields)...)
	}
}

// SetLevel sets the logging level. Child loggers share the level.
func (l *ZapLogger) SetLevel(level string) {
	l.level.SetLevel(toZapLevel(ParseLevel(level)))
}

// WithField returns a logger with an additional field
func (l *ZapLogger) WithField(key string, value interface{}) Logger {
	return &ZapLogger{sugar: l.sugar.With(key, value), level: l.level}
}

// WithFields returns a logger with additional fields
func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &ZapLogger{sugar: l.sugar.With(args...), level: l.level}
}

// With returns a logger with additional fields
func (l *ZapLogger) With(fields ...Field) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return &ZapLogger{sugar: l.sugar.With(args...), level: l.level}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// normalize flattens Field values into key/value pairs so both calling styles
// end up as zap's loosely typed arguments.
func normalize(fields []interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(fields)*2)
	for i := 0; i < len(fields); i++ {
		switch f := fields[i].(type) {
		case Field:
			out = append(out, f.Key, f.Value)
		case map[string]interface{}:
			for k, v := range f {
				out = append(out, k, v)
			}
		default:
			if i+1 < len(fields) {
				out = append(out, f, fields[i+1])
				i++
			}
		}
	}
	return out
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogLevel gets the current log level from environment
func GetLogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, fields ...interface{})         {}
func (n *NoOpLogger) Info(msg string, fields ...interface{})          {}
func (n *NoOpLogger) Warn(msg string, fields ...interface{})          {}
func (n *NoOpLogger) Error(msg string, fields ...interface{})         {}
func (n *NoOpLogger) SetLevel(level string)                           {}
func (n *NoOpLogger) WithField(key string, value interface{}) Logger  { return n }
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (n *NoOpLogger) With(fields ...Field) Logger                     { return n }
