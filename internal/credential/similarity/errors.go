package similarity

import (
	"errors"
	"fmt"
)

// Category classifies scorer failures. Every category leads to a
// fail-closed image decision; the category only shapes logs and metrics.
type Category string

const (
	ErrorTimeout        Category = "timeout"
	ErrorUnavailable    Category = "unavailable"
	ErrorAuthentication Category = "authentication"
	ErrorRateLimited    Category = "rate_limited"
	ErrorBadData        Category = "bad_data"
	ErrorInvalidImage   Category = "invalid_image"
	ErrorInternal       Category = "internal"
)

type Error struct {
	Category   Category
	Scorer     string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("scorer %s [%s]: %s: %v", e.Scorer, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("scorer %s [%s]: %s", e.Scorer, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func NewError(category Category, scorer, message string, underlying error) *Error {
	return &Error{Category: category, Scorer: scorer, Message: message, Underlying: underlying}
}

// CategoryOf extracts the category, defaulting to ErrorInternal.
func CategoryOf(err error) Category {
	var se *Error
	if errors.As(err, &se) {
		return se.Category
	}
	return ErrorInternal
}
