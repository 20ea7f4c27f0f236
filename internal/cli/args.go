package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// RequireEntryID validates that exactly one entry id argument is provided.
// Returns a helpful error message with usage and examples if missing or too many.
func RequireEntryID(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`requires at least 1 arg(s): <entry_id>

Usage: %s

Example:
  %s 0192f4a6-7c1e-7d3a-9b1f-2f4c8e6a1b2c

Use 'mailq list' to find entry ids.`, cmd.UseLine(), cmd.CommandPath())
	}
	if len(args) > 1 {
		return fmt.Errorf("accepts 1 arg(s), received %d", len(args))
	}
	return nil
}

// parseEntryID parses an entry id argument.
func parseEntryID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid argument %q: not an entry id: %w", arg, mailq.ErrInvalidConfig)
	}
	return id, nil
}
