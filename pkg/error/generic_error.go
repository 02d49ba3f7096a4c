package error

import (
	"errors"
	"net/http"
)

// GenericError is implemented by every error that knows how it should be
// presented to an API caller.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

// AsGeneric unwraps err until it finds a GenericError. Anything else is
// reported as an InternalError so internal detail never reaches the caller.
func AsGeneric(err error) GenericError {
	if err == nil {
		return nil
	}
	var generic GenericError
	if errors.As(err, &generic) {
		return generic
	}
	return InternalError("internal error")
}

// InternalError is a programming or invariant violation. The message is
// logged in full but callers only see a generic text.
type InternalError string

func (err InternalError) Error() string {
	return string(err)
}

func (err InternalError) ErrCode() string {
	return "InternalError"
}

func (err InternalError) StatusCode() int {
	return http.StatusInternalServerError
}

// InternalServerError keeps the historical name used across handlers.
func InternalServerError(msg string) InternalError {
	return InternalError(msg)
}
