package modbus

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger is the Printf-shaped tracing seam shared with transport.Logger.
type Logger = interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// zapLogger adapts a *zap.Logger to the Printf-shaped Logger seam, for
// callers who want structured logging without hand-rolling an adapter.
type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger wraps l so it satisfies Logger. Every call is logged at
// Debug, matching the trace-level verbosity of the "modbus: send/recv % x"
// lines this seam carries.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

func (z *zapLogger) Printf(format string, v ...any) {
	z.l.Debug(fmt.Sprintf(format, v...))
}
