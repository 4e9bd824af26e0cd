// Package resilience classifies infrastructure failures and retries the
// ones that are safe to re-run.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/intellifin/internal/model"
)

// IsTransient reports whether err is a TransactionFailure or looks like one:
// serialization conflicts, deadlocks, dropped connections and timeouts.
// Domain errors (not found, guard violations, validation) are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, model.ErrTransactionFailure) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsTransientSQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"conn closed",
		"database is locked",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientSQLState returns true for SQLSTATE codes that indicate the
// statement may succeed when re-run.
func IsTransientSQLState(code string) bool {
	switch {
	case code == "40001", // serialization_failure
		code == "40P01", // deadlock_detected
		code == "55P03", // lock_not_available
		code == "57P01": // admin_shutdown
		return true
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	default:
		return false
	}
}
