// Package manager provisions the PostgreSQL database that holds the queue.
//
// Database names are quoted with pgx.Identifier.Sanitize(), so names with
// spaces, quotes, or other special characters are handled safely.
//
// # Example Usage
//
//	created, err := manager.EnsureDatabase(ctx, manager.New(), conn, "mailq")
package manager
