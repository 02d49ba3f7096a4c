package error

import "net/http"

// ValidationError means the request itself is wrong; the caller can always
// fix it and retry.
type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "ValidationError"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}
