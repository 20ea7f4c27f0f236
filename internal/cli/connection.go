package cli

import "os"

// ConnectionStringEnv names the variable holding a full connection string.
// DATABASE_URL is honoured by the resolver itself, below granular flags.
const ConnectionStringEnv = "MAILQ_CONNECTION_STRING"

// connectionString prefers the --connection flag over MAILQ_CONNECTION_STRING.
func connectionString(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(ConnectionStringEnv)
}
