package signaling

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/BioHazard786/Warpmeet/backend/internal/presence"
)

// Error is a request failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...any) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: fmt.Sprintf(format, args...)}
}

// toError maps store errors onto endpoint errors. Anything unrecognised
// becomes a 500.
func toError(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, presence.ErrRoomNotFound):
		return NotFound("room not found")
	case errors.Is(err, presence.ErrSessionNotFound):
		return NotFound("session not found")
	default:
		return Internal("unexpected error")
	}
}
