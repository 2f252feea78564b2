package exchange

import (
	"errors"
	"fmt"
)

// Bybit v5 return codes that indicate a condition worth retrying: rate
// limiting and server-side failures. Everything else the API refuses is a
// parameter or account problem and will not heal on its own.
var transientRetCodes = map[int]bool{
	10006: true, // too many visits (rate limited)
	10016: true, // internal server error
	10018: true, // request blocked by IP rate limit
}

// APIError is a failed exchange call. Transient errors may be retried
// under the backoff policy; permanent ones must surface immediately.
type APIError struct {
	Endpoint  string
	Code      int
	Msg       string
	Transient bool
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("bybit %s: retCode=%d %s", e.Endpoint, e.Code, e.Msg)
	}
	return fmt.Sprintf("bybit %s: %s", e.Endpoint, e.Msg)
}

// newTransportError wraps a failure that happened before the API answered:
// connect errors, timeouts, dropped connections. All of these are worth a
// retry.
func newTransportError(endpoint string, err error) *APIError {
	return &APIError{Endpoint: endpoint, Msg: err.Error(), Transient: true}
}

// newRetCodeError classifies a non-zero business return code.
func newRetCodeError(endpoint string, code int, msg string) *APIError {
	return &APIError{Endpoint: endpoint, Code: code, Msg: msg, Transient: transientRetCodes[code]}
}

// IsTransient reports whether err represents a failure the retry policy is
// allowed to retry.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return false
}
