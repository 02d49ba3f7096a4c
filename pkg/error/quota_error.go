package error

import (
	"fmt"
	"net/http"
	"time"
)

// QuotaExceededError is returned when the admission controller denies a
// request. It is recoverable by waiting RetryAfter.
type QuotaExceededError struct {
	Class      string
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (err QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %dms", err.Class, err.RetryAfter.Milliseconds())
}

func (err QuotaExceededError) ErrCode() string {
	return "QuotaExceededError"
}

func (err QuotaExceededError) StatusCode() int {
	return http.StatusTooManyRequests
}
