// Package logging provides concrete implementations of the mailq.Logger interface.
//
// Available implementations:
//   - ConsoleLogger: Writes prefixed lines to stderr, optionally timestamped
//   - NullLogger: Discards all messages
//   - MemoryLogger: Keeps lines in memory for assertions in tests
//
// All logger implementations are safe for concurrent use by multiple goroutines.
package logging
