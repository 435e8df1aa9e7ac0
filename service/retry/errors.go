package retry

import (
	"fmt"
	"net/http"

	"github.com/atopos31/keyrelay/service/cooldown"
)

// Kind classifies a terminal proxy failure.
type Kind string

const (
	KindNoAvailableKey     Kind = "no_available_key"
	KindRateLimited        Kind = "rate_limited"
	KindUpstreamServer     Kind = "upstream_server_error"
	KindUpstreamClient     Kind = "upstream_client_error"
	KindMaxRetriesExceeded Kind = "max_retries_exceeded"
)

func kindOf(c cooldown.Category) Kind {
	switch c {
	case cooldown.CategoryRateLimit:
		return KindRateLimited
	case cooldown.CategoryClient:
		return KindUpstreamClient
	default:
		return KindUpstreamServer
	}
}

// Error is the terminal result of a failed proxied call.
type Error struct {
	Kind Kind
	// Last is the kind of the final attempt when Kind is KindMaxRetriesExceeded.
	Last       Kind
	Attempts   int
	StatusCode int // upstream status of the final attempt, 0 when there was none
	Header     http.Header
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindMaxRetriesExceeded {
		return fmt.Sprintf("%s after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status reported to the client.
func (e *Error) HTTPStatus() int {
	kind := e.Kind
	if kind == KindMaxRetriesExceeded {
		kind = e.Last
	}
	switch kind {
	case KindNoAvailableKey:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamClient:
		if e.StatusCode >= 400 && e.StatusCode < 500 {
			return e.StatusCode
		}
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
