package obs

import (
	"go.uber.org/zap"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal logging interface for observability.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// ZapLogger adapts a zap logger. Lines below Min are dropped before
// formatting.
type ZapLogger struct {
	S   *zap.SugaredLogger
	Min Level
}

// NewZapLogger returns a ZapLogger named "httpx" under l.
func NewZapLogger(l *zap.Logger) ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapLogger{S: l.Named("httpx").Sugar()}
}

func (z ZapLogger) Logf(level Level, format string, args ...interface{}) {
	if z.S == nil || level < z.Min {
		return
	}
	switch level {
	case Debug:
		z.S.Debugf(format, args...)
	case Info:
		z.S.Infof(format, args...)
	case Warn:
		z.S.Warnf(format, args...)
	default:
		z.S.Errorf(format, args...)
	}
}

// With returns a logger that attaches key/value pairs to every line.
func (z ZapLogger) With(kv ...interface{}) ZapLogger {
	if z.S == nil {
		return z
	}
	return ZapLogger{S: z.S.With(kv...), Min: z.Min}
}
