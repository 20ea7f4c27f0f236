package mailq

import "time"

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3+: Application-specific errors
const (
	ExitSuccess         = 0  // Command completed successfully
	ExitGeneralError    = 1  // Unknown or unclassified error
	ExitUsageError      = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic           = 3  // Internal panic (unexpected crash)
	ExitConfigError     = 10 // Invalid configuration or parameters
	ExitConnectionError = 11 // Failed to connect to database
	ExitApprovalDenied  = 12 // User denied a bulk operation
	ExitNotFound        = 13 // Entry or configuration not found
	ExitInvalidEntry    = 14 // Enqueue request rejected
)

// Queue defaults.
const (
	// DefaultMaxAttempts is the retry budget given to new entries.
	DefaultMaxAttempts = 5

	// DefaultCategory tags entries enqueued without a category.
	DefaultCategory = "General"

	// DefaultConnectivityDelay replaces the table delay after a connectivity failure.
	DefaultConnectivityDelay = 5 * time.Minute

	// DefaultAttemptTimeout bounds a single transport call.
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultBatchSize is the number of entries drained per scheduler cycle.
	DefaultBatchSize = 10

	// DefaultInterval is the pause between scheduler cycles.
	DefaultInterval = 2 * time.Minute

	// DefaultStartupDelay is waited once before the first scheduler cycle.
	DefaultStartupDelay = 30 * time.Second

	// MaxErrorLength is the number of characters of LastError that are kept.
	MaxErrorLength = 1000

	// NoDeliveryConfigError is recorded when a scope has no active configuration.
	NoDeliveryConfigError = "no active delivery configuration"

	// ExhaustedError is recorded by repair on entries stuck in pending.
	ExhaustedError = "attempts exhausted before outcome was recorded"
)

// DefaultRetryDelays is the backoff table indexed by attempt count.
var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

const (
	// DefaultForceApprovalCountdown is the countdown duration before force approval proceeds.
	DefaultForceApprovalCountdown = 5 * time.Second

	// DefaultRetryInitialDelay is the initial delay before retrying a database connection.
	DefaultRetryInitialDelay = 100 * time.Millisecond

	// DefaultRetryMaxDelay is the maximum delay between database connection attempts.
	DefaultRetryMaxDelay = 1 * time.Minute

	// DefaultRetryMaxAttempts is the number of database connection retries.
	DefaultRetryMaxAttempts = 3

	// DefaultManagementDB is the database to connect to for management operations.
	DefaultManagementDB = "postgres"
)
