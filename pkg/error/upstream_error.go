package error

import "net/http"

// UpstreamError wraps a failure of the object store or the transformation
// service. Only the generic message is ever shown to callers.
type UpstreamError struct {
	Reason string
	Cause  error
}

func NewUpstreamError(reason string, cause error) *UpstreamError {
	return &UpstreamError{Reason: reason, Cause: cause}
}

func (err *UpstreamError) Error() string {
	if err.Cause != nil {
		return err.Reason + ": " + err.Cause.Error()
	}
	return err.Reason
}

func (err *UpstreamError) Unwrap() error {
	return err.Cause
}

func (err *UpstreamError) ErrCode() string {
	return "UpstreamError"
}

func (err *UpstreamError) StatusCode() int {
	return http.StatusBadGateway
}

// PublicMessage is the only text that may leave the process.
func (err *UpstreamError) PublicMessage() string {
	return "image transformation failed, please try again later"
}
