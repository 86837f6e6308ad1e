// Package logging provides structured logging for the HSM client, wrapping
// logrus with the field conventions the rest of the module expects.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with a stable field vocabulary.
type Logger struct {
	*logrus.Logger
}

// New creates a Logger with the given level ("debug", "info", ...) and
// format ("json" or "text"). Invalid levels fall back to info.
func New(level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

// Default returns a logger at info level, text format.
func Default() *Logger {
	return New("info", "text")
}

// WithField returns a log entry carrying a single field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry carrying multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// Nop returns a logger with output discarded, used as a safe zero-value
// substitute when callers don't configure one.
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return &Logger{Logger: l}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
