package sentinel

import "errors"

// Sentinel dependency errors. Stores and adapters return these (optionally wrapped)
// so the engine can translate them into domain errors or verdicts exactly once.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)
