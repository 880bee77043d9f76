// Package resilience retries datasource and store reads that fail for
// reasons expected to clear up on their own.
package resilience

import (
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// TransientError marks a read failure that is safe to retry, such as a
// locked database or a dropped connection.
type TransientError struct {
	Err    error
	Source string
}

func (e *TransientError) Error() string {
	if e.Source == "" {
		return e.Err.Error()
	}
	return e.Source + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(source string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, Source: source}
}

// IsTransient reports whether err, or anything it wraps, is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Driver errors that only surface as text.
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	// sqlite SQLITE_BUSY and SQLITE_LOCKED
	"database is locked",
	"database table is locked",
	// postgres 53300 and 57P03
	"too many clients",
	"the database system is starting up",
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"conn closed",
}
