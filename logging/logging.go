// Package logging is the Logger external collaborator contract
// (spec.md §6): four leveled methods, each taking a message and an
// optional structured metadata bag. The default implementation is
// backed by github.com/rs/zerolog, matching the structured,
// field-oriented logging idiom used across the rest of the pack (e.g.
// the miken90-goclaw scheduler's slog.Info("cron manual run", "id", ...,
// "name", ...) calls) rather than a printf-style logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Fields is the structured metadata bag passed alongside a log message.
type Fields map[string]any

// Logger is the contract the core depends on. Implementations must not
// block the caller meaningfully; logging failures are never surfaced to
// callers.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// zerologLogger adapts a zerolog.Logger to the Logger contract.
type zerologLogger struct {
	logger zerolog.Logger
}

// New returns a Logger that writes structured JSON lines to w.
func New(w io.Writer) Logger {
	return &zerologLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Default returns a Logger writing to os.Stderr.
func Default() Logger {
	return New(os.Stderr)
}

func (l *zerologLogger) Debug(msg string, fields Fields) { l.emit(l.logger.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields Fields)  { l.emit(l.logger.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields Fields)  { l.emit(l.logger.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields Fields) { l.emit(l.logger.Error(), msg, fields) }

func (l *zerologLogger) emit(e *zerolog.Event, msg string, fields Fields) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

// nopLogger discards everything. Used as the zero-value default so
// components never need a nil check before logging.
type nopLogger struct{}

// Nop returns a Logger that discards all messages, for tests and
// callers that don't want logging.
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, Fields) {}
func (nopLogger) Info(string, Fields)  {}
func (nopLogger) Warn(string, Fields)  {}
func (nopLogger) Error(string, Fields) {}
