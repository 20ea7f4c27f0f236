// Package retry provides the backoff strategies and error classification
// used by mailq.
//
// DelayTable is the fixed table that paces queue entries: the delay after
// an entry's n-th attempt is the n-th table value, clamped to the last one.
// ClassifyError separates connectivity failures (unreachable relay, DNS,
// timeouts) from everything else so the queue can apply a fixed delay to
// outages instead of burning through the table.
//
// Executor retries an operation in-process with a BackoffStrategy and an
// ErrorClassifier. It paces connections to the queue database:
//
//	classifier := retry.NewPostgreSQLErrorClassifier()
//	strategy := retry.NewExponentialBackoff(3)
//	executor := retry.NewExecutor(classifier, strategy)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return pool.Ping(ctx)
//	})
//
// Executor instances are safe for concurrent use. Use WithOnRetry() to create
// independent configurations per goroutine.
package retry
