package telemetry

import (
	"log"
	"time"
)

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger so the logging router can use
// it as its fallback.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// Metrics records replication activity. Implementations must be safe for
// concurrent use.
type Metrics interface {
	DeltaSent(full bool, bytes int)
	SendDropped()
	AckReceived(advanced bool)
	ResyncRequested(reason string)
	PeerResets(n int)
	HistoryEvicted(n int)
	TickDuration(d time.Duration)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) DeltaSent(bool, int) {}
func (NopMetrics) SendDropped() {}
func (NopMetrics) AckReceived(bool) {}
func (NopMetrics) ResyncRequested(string) {}
func (NopMetrics) PeerResets(int) {}
func (NopMetrics) HistoryEvicted(int) {}
func (NopMetrics) TickDuration(time.Duration) {}
