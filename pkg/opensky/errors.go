package opensky

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TransportError covers everything between issuing the request and holding a
// 200 body: DNS, connect, timeouts, auth rejections and non-200 statuses.
type TransportError struct {
	Op  string
	URL string

	// StatusCode is 0 when no response arrived
	StatusCode int

	// RetryAfter is parsed from Retry-After or X-Rate-Limit-Retry-After-Seconds
	RetryAfter time.Duration

	RateLimit RateLimitHeaders

	// Body holds the first bytes of an error response
	Body string

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("opensky: %s: HTTP %d", e.Op, e.StatusCode)
		if e.RetryAfter > 0 {
			msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
		}
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("opensky: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Unauthorized reports a credential rejection.
func (e *TransportError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// RateLimited reports an HTTP 429.
func (e *TransportError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// FormatError means the body arrived but is not the expected structure.
type FormatError struct {
	Reason string

	// Record is the offending state vector index, -1 for envelope problems
	Record int

	Err error
}

func (e *FormatError) Error() string {
	msg := "opensky: " + e.Reason
	if e.Record >= 0 {
		msg += fmt.Sprintf(" at record %d", e.Record)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// RateLimitHeaders contains rate limit information from response headers.
type RateLimitHeaders struct {
	Remaining int // X-Rate-Limit-Remaining: credits left, -1 when absent
}

// parseRetryAfter extracts the wait time a 429 response asks for.
// Supports OpenSky's X-Rate-Limit-Retry-After-Seconds plus the standard
// Retry-After in both delay-seconds and HTTP-date forms.
func parseRetryAfter(headers http.Header) time.Duration {
	if v := headers.Get("X-Rate-Limit-Retry-After-Seconds"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}

func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{Remaining: -1}
	if remaining := headers.Get("X-Rate-Limit-Remaining"); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			rlh.Remaining = val
		}
	}
	return rlh
}
