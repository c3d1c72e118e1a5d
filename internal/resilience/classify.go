package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrAttemptTimeout is returned when a single attempt outlives Profile.Timeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// Kind is the failure class of an error returned by an external call.
type Kind string

const (
	KindNone        Kind = ""
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindRateLimited Kind = "rate_limited" // HTTP 429
	KindServer      Kind = "server"       // HTTP 5xx
	KindClient      Kind = "client"       // other HTTP 4xx, not retried
	KindPermission  Kind = "permission"   // the bot lacks rights; retrying cannot help
	KindNetwork     Kind = "network"
	KindOther       Kind = "other"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors that carry a server-requested wait
// before the next attempt (an HTTP Retry-After header).
type RetryAfterer interface {
	RetryAfterDelay() time.Duration
}

// RetryAfterOf returns the wait requested by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfterDelay(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// PermissionError marks a failure caused by missing platform permissions.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return "missing permissions"
	}
	return fmt.Sprintf("missing permissions: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Classify maps err onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var perm *PermissionError
	if errors.As(err, &perm) {
		return KindPermission
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	if status, ok := StatusOf(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			return KindRateLimited
		case status == http.StatusRequestTimeout:
			return KindTimeout
		case status == http.StatusForbidden:
			return KindPermission
		case status >= 500:
			return KindServer
		case status >= 400:
			return KindClient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	return KindOther
}

// StatusOf extracts an HTTP status from err, if any error in its chain carries one.
func StatusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// Retryable reports whether retrying err may succeed.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindPermission, KindClient, KindCanceled:
		return false
	default:
		return true
	}
}

// Label returns a low-cardinality metric tag for err:
// "timeout", "http_<status>", "network", "permission" or "other".
func Label(err error) string {
	switch k := Classify(err); k {
	case KindNone:
		return ""
	case KindTimeout, KindNetwork, KindPermission, KindCanceled:
		return string(k)
	default:
		if status, ok := StatusOf(err); ok {
			return fmt.Sprintf("http_%d", status)
		}
		return string(KindOther)
	}
}
