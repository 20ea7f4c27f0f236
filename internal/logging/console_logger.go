package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// ConsoleLogger writes log lines to stderr, or to the writer given by
// WithWriter. Safe for concurrent use by multiple goroutines.
type ConsoleLogger struct {
	verbose    bool
	timestamps bool
	now        func() time.Time
	out        io.Writer
	mu         sync.Mutex
}

var _ mailq.Logger = (*ConsoleLogger)(nil)

// ConsoleOption configures a ConsoleLogger.
type ConsoleOption func(*ConsoleLogger)

// WithWriter redirects output away from stderr.
func WithWriter(w io.Writer) ConsoleOption {
	return func(l *ConsoleLogger) {
		l.out = w
	}
}

// WithTimestamps prefixes every line with an RFC 3339 UTC timestamp.
// Long-running commands such as "mailq run" enable it.
func WithTimestamps(now func() time.Time) ConsoleOption {
	return func(l *ConsoleLogger) {
		l.timestamps = true
		l.now = now
	}
}

// NewConsoleLogger creates a new ConsoleLogger.
// If verbose is false, Verbose() calls are no-ops.
func NewConsoleLogger(verbose bool, opts ...ConsoleOption) *ConsoleLogger {
	l := &ConsoleLogger{
		verbose: verbose,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Verbose logs detailed diagnostic information if verbose mode is enabled.
func (l *ConsoleLogger) Verbose(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.write("[VERBOSE] ", format, args)
}

// Info logs informational messages about normal operations.
func (l *ConsoleLogger) Info(format string, args ...interface{}) {
	l.write("", format, args)
}

// Warn logs recoverable problems.
func (l *ConsoleLogger) Warn(format string, args ...interface{}) {
	l.write("[WARN] ", format, args)
}

// Error logs error messages.
func (l *ConsoleLogger) Error(format string, args ...interface{}) {
	l.write("[ERROR] ", format, args)
}

func (l *ConsoleLogger) write(prefix, format string, args []interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.out
	if out == nil {
		out = os.Stderr
	}
	if l.timestamps {
		fmt.Fprintf(out, "%s %s%s\n", l.now().UTC().Format(time.RFC3339), prefix, msg)
		return
	}
	fmt.Fprint(out, prefix+msg+"\n")
}
