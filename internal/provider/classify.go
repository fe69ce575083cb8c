package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimited marks a rate-limiter denial; it is always retryable.
var ErrRateLimited = errors.New("rate limit exceeded")

// RequestError is a provider response with a non-2xx status.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable classifies an error from a provider call or the rate limiter.
// No status (network/timeout) and 5xx and 429 are transient; any other 4xx
// is terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return RetryableCode(reqErr.StatusCode)
	}
	// No HTTP status at all: network error, timeout, connection reset.
	return true
}

// RetryableCode applies the same classification to a bare status code, as
// reported per-message inside a bulk response.
func RetryableCode(code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	case code >= http.StatusBadRequest:
		return false
	default:
		return true
	}
}
