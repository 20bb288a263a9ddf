// Package observability defines the logging facade shared across the streamer.
package observability

import "sync/atomic"

// Field is one key/value attribute attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a logging field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the minimal leveled logger the streamer writes against.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

var global atomic.Pointer[Logger]

// SetLogger installs the process-wide logger; nil restores the discard
// logger. Safe to call concurrently with Log.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	global.Store(&logger)
}

// Log returns the installed logger, or the discard logger when none is set.
func Log() Logger {
	if logger := global.Load(); logger != nil {
		return *logger
	}
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
