package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// MemoryLogger keeps formatted lines in memory so tests can assert on them.
type MemoryLogger struct {
	mu    sync.Mutex
	lines []string
}

var _ mailq.Logger = (*MemoryLogger)(nil)

// NewMemoryLogger creates an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Verbose(format string, args ...interface{}) { l.add("VERBOSE", format, args) }
func (l *MemoryLogger) Info(format string, args ...interface{})    { l.add("INFO", format, args) }
func (l *MemoryLogger) Warn(format string, args ...interface{})    { l.add("WARN", format, args) }
func (l *MemoryLogger) Error(format string, args ...interface{})   { l.add("ERROR", format, args) }

func (l *MemoryLogger) add(level, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

// Lines returns a copy of everything logged so far, each prefixed by its level.
func (l *MemoryLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Contains reports whether any line at level contains substr.
func (l *MemoryLogger) Contains(level, substr string) bool {
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
