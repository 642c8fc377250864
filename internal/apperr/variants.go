package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for authentication collaborators. Wrap them with context; the
// classifier matches with errors.Is.
var (
	ErrTokenInvalid = errors.New("invalid authentication token")
	ErrTokenExpired = errors.New("authentication token expired")
)

// CastError reports a value that cannot be converted to the identifier type
// a resource key requires.
type CastError struct {
	Path  string
	Value string
	Err   error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cast to %s failed for value %q", e.Path, e.Value)
}

func (e *CastError) Unwrap() error { return e.Err }

// DuplicateKeyError reports a uniqueness violation raised by a store that
// does not have a driver-specific error type.
type DuplicateKeyError struct {
	Field string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: %s=%q", e.Field, e.Value)
}

// FieldError is one failed field rule.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every failed field rule for one document.
type ValidationError struct {
	Fields []FieldError
}

// Add appends a field failure and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// Err returns nil when no field failed, so callers can `return v.Err()`.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// Messages returns the per-field messages in the order they were added.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Message)
	}
	return out
}
