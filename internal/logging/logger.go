package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/austindbirch/sol_hook/internal/tracing"
)

// Logger provides structured JSON logging with trace correlation
type Logger struct {
	service string
	base    *logrus.Logger
}

// LogEntry is a single log line under construction. The With* methods mutate
// and return the receiver so calls can be chained.
type LogEntry struct {
	entry *logrus.Entry
}

// New creates a new structured logger for the given service writing to stdout.
// LOG_LEVEL selects the minimum level (default info).
func New(service string) *Logger {
	return NewWithOutput(service, os.Stdout)
}

// NewWithOutput creates a logger that writes JSON lines to w
func NewWithOutput(service string, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "msg",
		},
	})
	base.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	return &Logger{service: service, base: base}
}

func parseLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (l *Logger) newEntry() *LogEntry {
	e := logrus.NewEntry(l.base)
	if l.service != "" {
		e = e.WithField("service", l.service)
	}
	return &LogEntry{entry: e}
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.newEntry()
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		e.entry = e.entry.WithField("trace_id", traceID)
	}
	return e
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.newEntry().WithFields(fields)
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return l.newEntry()
}

// WithOwner sets the owning identity for the log entry
func (e *LogEntry) WithOwner(owner string) *LogEntry {
	return e.WithField("owner", owner)
}

// WithSubscription sets the subscription ID for the log entry
func (e *LogEntry) WithSubscription(subscriptionID string) *LogEntry {
	return e.WithField("subscription_id", subscriptionID)
}

// WithJob sets the delivery job ID for the log entry
func (e *LogEntry) WithJob(jobID string) *LogEntry {
	return e.WithField("job_id", jobID)
}

// WithEvent sets the event type for the log entry
func (e *LogEntry) WithEvent(eventType string) *LogEntry {
	return e.WithField("event_type", eventType)
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	e.entry = e.entry.WithField(key, value)
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if len(fields) > 0 {
		e.entry = e.entry.WithFields(logrus.Fields(fields))
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.entry = e.entry.WithField("error", err.Error())
	}
	return e
}

// Debug logs at debug level
func (e *LogEntry) Debug(message string) {
	e.entry.Debug(message)
}

// Info logs at info level
func (e *LogEntry) Info(message string) {
	e.entry.Info(message)
}

// Infof logs at info level with formatting
func (e *LogEntry) Infof(format string, args ...any) {
	e.entry.Infof(format, args...)
}

// Warn logs at warn level
func (e *LogEntry) Warn(message string) {
	e.entry.Warn(message)
}

// Error logs at error level
func (e *LogEntry) Error(message string) {
	e.entry.Error(message)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) {
	e.entry.Fatal(message)
}
