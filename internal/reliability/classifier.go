package reliability

import (
	"net/http"
	"time"
)

// IsRetryableHTTPStatus reports whether a failed websocket handshake status
// is worth another dial attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableServerError classifies realtime error event types and codes the
// upstream expects clients to retry.
func IsRetryableServerError(errType, code string) bool {
	switch errType {
	case "server_error", "rate_limit_error":
		return true
	}
	switch code {
	case "rate_limit_exceeded", "server_error", "overloaded", "session_expired":
		return true
	default:
		return false
	}
}

// IsRetryableCloseCode reports whether a websocket close code signals a
// transient server condition.
func IsRetryableCloseCode(code int) bool {
	switch code {
	case 1011, 1012, 1013, 1014:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
