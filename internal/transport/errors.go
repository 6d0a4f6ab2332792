// ABOUTME: Error taxonomy for gateway transports
// ABOUTME: Distinguishes retryable disconnects, vanished workflows, rate limits and missing history

package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStreamDisconnected means a stream broke unexpectedly and may be retried.
	ErrStreamDisconnected = errors.New("stream disconnected")
	// ErrWorkflowUnavailable means the thread's workflow no longer exists.
	ErrWorkflowUnavailable = errors.New("workflow unavailable")
	// ErrHistoryNotFound means the thread has no persisted history yet.
	ErrHistoryNotFound = errors.New("history not found")
	// ErrUnauthorized means the gateway rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired means the configured bearer token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Rate limit kinds reported by the gateway.
const (
	LimitCredit    = "credit_limit"
	LimitWorkspace = "workspace_limit"
)

// RateLimitedError reports that the gateway refused work for quota reasons.
type RateLimitedError struct {
	Kind   string
	Detail string
}

func (e *RateLimitedError) Error() string {
	if e.Detail == "" {
		return "rate limited: " + e.Kind
	}
	return fmt.Sprintf("rate limited: %s: %s", e.Kind, e.Detail)
}

// IsRateLimitCode reports whether an error code names a rate limit.
func IsRateLimitCode(code string) bool {
	return code == LimitCredit || code == LimitWorkspace
}

// statusError maps a non-2xx gateway response to the taxonomy. code and
// detail come from the JSON error body when present.
func statusError(status int, code, detail string) error {
	switch {
	case IsRateLimitCode(code):
		return &RateLimitedError{Kind: code, Detail: detail}
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{Kind: LimitCredit, Detail: detail}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrWorkflowUnavailable
	case detail != "":
		return fmt.Errorf("gateway returned status %d: %s", status, detail)
	default:
		return fmt.Errorf("gateway returned status %d", status)
	}
}
