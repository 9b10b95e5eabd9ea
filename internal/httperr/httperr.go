package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error carrying the HTTP status it should surface as. Validation
// and ownership failures are raised close to the point of detection with one
// of these and propagate unchanged to the handler layer.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error with the given status and message.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// From extracts an *Error from err's chain, or nil.
func From(err error) *Error {
	var herr *Error
	if errors.As(err, &herr) {
		return herr
	}
	return nil
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	if herr := From(err); herr != nil {
		return herr.Status
	}
	return http.StatusInternalServerError
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	herr := From(err)
	return herr != nil && herr.Status == status
}
