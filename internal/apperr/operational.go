package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// Status classes carried in every response envelope.
const (
	StatusFail  = "fail"
	StatusError = "error"
)

// OperationalError is immutable after construction.
type OperationalError struct {
	message    string
	statusCode int
	status     string
	cause      error
	pcs        []uintptr
}

// New builds an operational error. Status codes outside 100..599 become 500.
func New(message string, statusCode int) *OperationalError {
	return newOperational(message, statusCode, nil, 1)
}

// Newf is New with a formatted message.
func Newf(statusCode int, format string, args ...any) *OperationalError {
	return newOperational(fmt.Sprintf(format, args...), statusCode, nil, 1)
}

// Wrap builds an operational error that keeps cause for logging and
// development output. The client only ever sees message.
func Wrap(cause error, message string, statusCode int) *OperationalError {
	return newOperational(message, statusCode, cause, 1)
}

func newOperational(message string, statusCode int, cause error, skip int) *OperationalError {
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	return &OperationalError{
		message:    message,
		statusCode: statusCode,
		status:     StatusClass(statusCode),
		cause:      cause,
		pcs:        xerrors.Callers(skip + 1),
	}
}

// StatusClass maps 4xx to "fail" and everything else to "error".
func StatusClass(statusCode int) string {
	if statusCode >= 400 && statusCode < 500 {
		return StatusFail
	}
	return StatusError
}

func (e *OperationalError) Error() string       { return e.message }
func (e *OperationalError) Message() string     { return e.message }
func (e *OperationalError) StatusCode() int     { return e.statusCode }
func (e *OperationalError) Status() string      { return e.status }
func (e *OperationalError) IsOperational() bool { return true }
func (e *OperationalError) Unwrap() error       { return e.cause }
func (e *OperationalError) StackPCs() []uintptr { return e.pcs }

// AsOperational returns the outermost operational error in err's chain.
func AsOperational(err error) (*OperationalError, bool) {
	var op *OperationalError
	if errors.As(err, &op) && op != nil {
		return op, true
	}
	return nil, false
}

// NotFound is the catch-all error for a request that matched no route.
func NotFound(originalURL string) *OperationalError {
	return newOperational(fmt.Sprintf("Can't find %s on this server!", originalURL), http.StatusNotFound, nil, 1)
}
