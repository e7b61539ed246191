package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/lib/pq"
)

// ConnError carries the address a failed connection was aimed at.
type ConnError struct {
	Target string
	Err    error
}

func (e *ConnError) Error() string { return e.Err.Error() }
func (e *ConnError) Unwrap() error { return e.Err }

// Describe turns a database failure into an operator-facing sentence naming
// the likely cause. target is used when err carries no ConnError.
func Describe(err error, target string) string {
	var ce *ConnError
	if errors.As(err, &ce) {
		target = ce.Target
	}
	if target == "" {
		target = "unknown"
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28P01":
			return fmt.Sprintf("Database authentication failed: invalid username or password for database at %s.", target)
		case "3D000":
			return fmt.Sprintf("Database not found: %s (on %s).", pqErr.Message, target)
		case "28000":
			return fmt.Sprintf("Database access denied: the user does not have permission to access the database at %s.", target)
		}
		return fmt.Sprintf("Database error: %s (connecting to %s)", pqErr.Message, target)
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Sprintf("Database connection refused: the server at %s is not accepting connections.", target)
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return fmt.Sprintf("Database connection failed: cannot reach %s. The host may be unreachable or blocked by a firewall.", target)
	case errors.As(err, &dnsErr):
		if dnsErr.IsTemporary {
			return fmt.Sprintf("Database DNS lookup failed: temporary resolution failure for %q.", dnsErr.Name)
		}
		return fmt.Sprintf("Database hostname not found: cannot resolve %q.", dnsErr.Name)
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return fmt.Sprintf("Database connection timeout: no answer from %s within the timeout period.", target)
	}
	return fmt.Sprintf("Database error: %v (connecting to %s)", err, target)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
