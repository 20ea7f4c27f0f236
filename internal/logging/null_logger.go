package logging

import "github.com/vvka-141/mailq/pkg/mailq"

// NullLogger is a no-op logger that discards all log messages.
// Useful for testing and when logging is not desired.
type NullLogger struct{}

var _ mailq.Logger = (*NullLogger)(nil)

// NewNullLogger creates a new NullLogger.
func NewNullLogger() *NullLogger {
	return &NullLogger{}
}

func (l *NullLogger) Verbose(format string, args ...interface{}) {}
func (l *NullLogger) Info(format string, args ...interface{})    {}
func (l *NullLogger) Warn(format string, args ...interface{})    {}
func (l *NullLogger) Error(format string, args ...interface{})   {}
