package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError is returned when the backend answers with a non-2xx status.
// It satisfies resilience.StatusCoder so failures are classified and
// labelled by status.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// StatusCode returns the HTTP status of the failed response.
func (e *HTTPError) StatusCode() int { return e.Status }

// RetryAfterDelay returns the parsed Retry-After header, 0 when absent.
func (e *HTTPError) RetryAfterDelay() time.Duration { return e.RetryAfter }

// APIError is an error payload delivered inside a successful HTTP response.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
	}
	return "api error: " + e.Message
}

// ParseRetryAfter parses a Retry-After header given either as delta-seconds
// or as an HTTP date. Returns 0 when absent or malformed.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
