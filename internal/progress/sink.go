// Package progress delivers human-readable progress events to
// observers. Delivery is fire-and-forget: a sink never blocks the
// worker publishing to it and never surfaces an error.
package progress

import "log/slog"

// Sink accepts one formatted progress event.
type Sink interface {
	Publish(event string)
}

// Log writes progress events to the structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "progress")}
}

func (l *Log) Publish(event string) {
	l.logger.Info(event)
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Publish(event string) {
	for _, s := range m {
		s.Publish(event)
	}
}
