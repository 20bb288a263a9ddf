package observability

import (
	"fmt"
	"log"
	"strings"
)

// StdLogger writes leveled lines through a standard library logger.
type StdLogger struct {
	out   *log.Logger
	debug bool
}

// NewStdLogger wraps out; debug lines are dropped unless debug is set.
func NewStdLogger(out *log.Logger, debug bool) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, debug: debug}
}

// Debug logs a debug-level message when enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l.debug {
		l.print("DEBUG", msg, fields)
	}
}

// Info logs an informational message.
func (l *StdLogger) Info(msg string, fields ...Field) { l.print("INFO", msg, fields) }

// Error logs an error message.
func (l *StdLogger) Error(msg string, fields ...Field) { l.print("ERROR", msg, fields) }

func (l *StdLogger) print(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	l.out.Print(b.String())
}
