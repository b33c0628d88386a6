package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/BioHazard786/Warpmeet/cli/internal/signaling"
)

var (
	ErrValidation      = errors.New("invalid request")
	ErrNotFound        = errors.New("room or session not found")
	ErrTransient       = errors.New("transient transport failure")
	ErrReconnectFailed = errors.New("reconnection attempts exhausted")
	ErrAlreadyJoined   = errors.New("already joined")
	ErrNotJoined       = errors.New("not joined")
	ErrClosed          = errors.New("transport closed")
)

// Error is a failed transport operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// classify maps an endpoint failure onto the transport's error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return NewError(op, ErrClosed)
	}

	var se *signaling.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusNotFound:
			return WrapError(op, ErrNotFound, se.Message)
		case se.Status >= 400 && se.Status < 500:
			return WrapError(op, ErrValidation, se.Message)
		}
	}
	return WrapError(op, ErrTransient, err.Error())
}
