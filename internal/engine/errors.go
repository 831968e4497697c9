package engine

import "errors"

// Typed errors returned by the engine. Callers match with errors.Is; the HTTP
// layer maps them to statuses. The engine never substitutes defaults for bad
// input.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("position not found")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrConfig            = errors.New("invalid configuration")
)
