// Package logger decouples the other packages from how messages get
// out. Components take a Logger; the CLI decides what backs it.
package logger

import (
	"fmt"
	"log"
	"os"
)

// Logger accepts Printf-style format strings at four levels.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

type envLogger struct {
	prefix  string
	verbose bool
}

// NewEnvLogger writes through the stdlib log package with a component
// prefix such as "[poller]". Debug lines are dropped unless verbose is
// set or the SLURMWATCH_DEBUG environment variable is non-empty.
func NewEnvLogger(prefix string, verbose bool) Logger {
	return &envLogger{prefix: prefix, verbose: verbose}
}

func (l *envLogger) Debug(format string, args ...interface{}) {
	if l.verbose || os.Getenv("SLURMWATCH_DEBUG") != "" {
		log.Printf(l.prefix+" "+format, args...)
	}
}

func (l *envLogger) Info(format string, args ...interface{}) {
	log.Printf(l.prefix+" "+format, args...)
}

func (l *envLogger) Warn(format string, args ...interface{}) {
	log.Printf(l.prefix+" WARN: "+format, args...)
}

func (l *envLogger) Error(format string, args ...interface{}) {
	log.Printf(l.prefix+" ERROR: "+format, args...)
}

type noopLogger struct{}

// Noop discards everything.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

// LogMessage is one captured entry.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger collects messages so tests can assert on them.
type BufferLogger struct {
	Messages []LogMessage
}

func NewBufferLogger() *BufferLogger {
	return &BufferLogger{Messages: make([]LogMessage, 0)}
}

func (l *BufferLogger) Debug(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "debug", Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Info(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "info", Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Warn(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "warn", Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Error(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "error", Message: fmt.Sprintf(format, args...)})
}

// HasLevel reports whether anything was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

func (l *BufferLogger) Clear() {
	l.Messages = l.Messages[:0]
}

var defaultLogger = NewEnvLogger("", false)

// Default returns the process-wide fallback logger.
func Default() Logger {
	return defaultLogger
}

// SetDefault replaces the fallback logger, mainly for tests.
func SetDefault(l Logger) {
	defaultLogger = l
}
