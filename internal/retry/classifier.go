package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// ErrorClass is the coarse category of a delivery error.
type ErrorClass int

const (
	// ClassOther covers everything not recognised as connectivity.
	ClassOther ErrorClass = iota
	// ClassConnectivity means the remote side could not be reached.
	ClassConnectivity
)

func (c ErrorClass) String() string {
	if c == ClassConnectivity {
		return "connectivity"
	}
	return "other"
}

// Message fragments that mark an error, or any error it wraps, as a
// connectivity failure. Matched case-insensitively.
var connectivityPatterns = []string{
	"unable to connect",
	"no such host",
	"network",
	"timeout",
	"timed out",
	"connection",
	"socket",
	"broken pipe",
	"unexpected eof",
}

// ClassifyError decides whether err is a connectivity failure. Typed checks
// run first; the message heuristic covers transports that only surface text.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	if isNetworkError(err) {
		return ClassConnectivity
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ClassConnectivity
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if matchesAny(e.Error(), connectivityPatterns) {
			return ClassConnectivity
		}
	}
	return ClassOther
}

// ConnectivityClassifier adapts ClassifyError to mailq.ErrorClassifier:
// an error is transient when it is a connectivity failure.
type ConnectivityClassifier struct{}

var _ mailq.ErrorClassifier = ConnectivityClassifier{}

// IsTransient reports whether err is a connectivity failure.
func (ConnectivityClassifier) IsTransient(err error) bool {
	return ClassifyError(err) == ClassConnectivity
}

// PostgreSQLErrorClassifier decides which database errors are worth retrying
// when connecting to the queue database.
type PostgreSQLErrorClassifier struct{}

var _ mailq.ErrorClassifier = (*PostgreSQLErrorClassifier)(nil)

// NewPostgreSQLErrorClassifier creates a new PostgreSQL error classifier.
func NewPostgreSQLErrorClassifier() *PostgreSQLErrorClassifier {
	return &PostgreSQLErrorClassifier{}
}

var pgTransientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"connection failure",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"too many connections",
	"server closed the connection",
	"unexpected eof",
	"connection pool exhausted",
	"context deadline exceeded",
}

// IsTransient determines if an error is temporary and retryable.
func (c *PostgreSQLErrorClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientPgCode(pgErr.Code)
	}

	// A host that does not resolve is a configuration problem for the queue
	// database, unlike for a mail relay.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.Timeout()
	}

	if isNetworkError(err) {
		return true
	}
	return matchesAny(err.Error(), pgTransientPatterns)
}

// isTransientPgCode checks SQLSTATE classes 08 (connection), 53 (resources)
// and 57 (operator intervention) plus serialization, deadlock and lock timeouts.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
func isTransientPgCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"),
		strings.HasPrefix(code, "53"),
		strings.HasPrefix(code, "57"):
		return true
	}
	switch code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE)
}

func matchesAny(msg string, patterns []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
