package chain

import (
	"context"
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for ledger calls. The engine
// decides retries and verdicts from the category alone.
type Category string

const (
	// ErrorTimeout indicates the ledger did not answer in time.
	ErrorTimeout Category = "timeout"

	// ErrorUnavailable indicates the node is unreachable or the circuit is open.
	ErrorUnavailable Category = "unavailable"

	// ErrorRejected indicates the ledger refused the call (revert, duplicate code, bad nonce).
	ErrorRejected Category = "rejected"

	// ErrorBadData indicates an answer that could not be decoded.
	ErrorBadData Category = "bad_data"

	// ErrorNotFound indicates the transaction or record does not exist.
	ErrorNotFound Category = "not_found"

	// ErrorInternal indicates a local failure (signing, encoding).
	ErrorInternal Category = "internal"
)

// Error wraps ledger failures with a normalized category.
type Error struct {
	Category   Category
	Op         string
	Message    string
	Underlying error
	Retryable  bool // set from Category: timeout and unavailable are retryable
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("chain %s [%s]: %s: %v", e.Op, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("chain %s [%s]: %s", e.Op, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a categorized error with retryability derived from the
// category.
func NewError(category Category, op, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Op:         op,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorUnavailable,
	}
}

func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// CategoryOf extracts the category, defaulting to ErrorInternal.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorInternal
}

// ErrCircuitOpen is returned without calling the ledger while the breaker is open.
var ErrCircuitOpen = errors.New("chain circuit open")

// ErrDuplicateCode marks a submission the registry refused because the
// verification code is already anchored. It is wrapped in an ErrorRejected
// Error so callers can regenerate the code instead of failing.
var ErrDuplicateCode = errors.New("verification code already registered")

// IsDuplicateCode reports whether err is a duplicate-code rejection.
func IsDuplicateCode(err error) bool {
	return errors.Is(err, ErrDuplicateCode)
}
