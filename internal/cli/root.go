package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const asciiLogo = `                _ _
 _ __ ___   __ _(_) | __ _
| '_ ` + "`" + ` _ \ / _` + "`" + ` | | |/ _` + "`" + ` |
| | | | | | (_| | | | (_| |
|_| |_| |_|\__,_|_|_|\__, |
                        |_|`

// defaultCommandTimeout bounds one-shot commands. mailq.yaml timeout or
// --timeout override it.
const defaultCommandTimeout = time.Minute

var rootCmd = &cobra.Command{
	Use:   "mailq",
	Short: "Durable outbound email queue backed by PostgreSQL",
	Long: asciiLogo + `

mailq persists outbound email in PostgreSQL and delivers it in the background
through per-scope SMTP relays. Failed attempts are retried on a fixed delay
table; connectivity failures wait a flat delay instead. Entries end up sent,
failed or cancelled, and nothing is ever deleted.

Producers enqueue with 'mailq enqueue' or the Go API; 'mailq run' starts the
drain loop and serves Prometheus metrics.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Database connection failed
  12 - User denied approval
  13 - Entry or configuration not found
  14 - Invalid entry (enqueue rejected)`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo()
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("help", false, "Help for mailq")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for all commands")
	rootCmd.PersistentFlags().String("config-dir", ".",
		"Directory containing mailq.yaml and .env")
	rootCmd.PersistentFlags().Duration("timeout", defaultCommandTimeout,
		"Timeout for one-shot commands (overrides mailq.yaml timeout)\n"+
			"Examples: 30s, 5m")
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}

func getConfigDir(cmd *cobra.Command) string {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil || dir == "" {
		return "."
	}
	return dir
}
