package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// sslModes contains valid PostgreSQL SSL modes for shell completion.
var sslModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

var entryStates = []string{
	string(mailq.StatePending),
	string(mailq.StateSent),
	string(mailq.StateFailed),
	string(mailq.StateCancelled),
}

var securityModes = []string{
	string(mailq.SecuritySTARTTLS),
	string(mailq.SecurityTLS),
	string(mailq.SecurityNone),
}

var providers = []string{string(mailq.ProviderSMTP), string(mailq.ProviderSendGrid)}

// completeFrom returns a completion function over a fixed word list.
func completeFrom(words []string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var matches []string
		for _, w := range words {
			if strings.HasPrefix(w, toComplete) {
				matches = append(matches, w)
			}
		}
		return matches, cobra.ShellCompDirectiveNoFileComp
	}
}

// registerFlagCompletions registers completions for flags cmd defines.
// Flags cmd lacks are skipped.
func registerFlagCompletions(cmd *cobra.Command) {
	for flag, words := range map[string][]string{
		"sslmode":  sslModes,
		"state":    entryStates,
		"security": securityModes,
		"provider": providers,
	} {
		if cmd.Flags().Lookup(flag) == nil {
			continue
		}
		_ = cmd.RegisterFlagCompletionFunc(flag, completeFrom(words))
	}
}
