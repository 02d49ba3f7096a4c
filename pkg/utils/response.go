package utils

import (
	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

// ResponseData is the envelope every API response is wrapped in.
// Status only drives the HTTP status code and is not serialized.
type ResponseData struct {
	Status  int    `json:"-"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Results any    `json:"results,omitempty"`
	// RetryAfterMs is only set on quota rejections.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// PanicIfNeeded lets handlers bail out to the Recovery middleware.
func PanicIfNeeded(err any) {
	if err != nil {
		panic(err)
	}
}

// ErrorResponse converts err into the failure envelope. Errors that are not
// part of the public taxonomy collapse into a generic InternalError.
func ErrorResponse(err error) ResponseData {
	generic := pkgError.AsGeneric(err)
	message := generic.Error()
	if upstream, ok := generic.(*pkgError.UpstreamError); ok {
		message = upstream.PublicMessage()
	}
	if _, ok := generic.(pkgError.InternalError); ok {
		message = "internal server error"
	}
	res := ResponseData{
		Status:  generic.StatusCode(),
		Success: false,
		Code:    generic.ErrCode(),
		Error:   message,
	}
	if quota, ok := generic.(pkgError.QuotaExceededError); ok {
		res.RetryAfterMs = quota.RetryAfter.Milliseconds()
		if res.RetryAfterMs <= 0 {
			res.RetryAfterMs = 1
		}
	}
	return res
}
