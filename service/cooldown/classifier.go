package cooldown

import (
	"errors"
	"net/http"

	"github.com/atopos31/keyrelay/providers"
)

// Category is the outcome class of a failed upstream attempt.
type Category int

const (
	CategoryNone Category = iota
	CategoryRateLimit
	CategoryServer
	CategoryClient
)

func (c Category) String() string {
	switch c {
	case CategoryRateLimit:
		return "rate_limited"
	case CategoryServer:
		return "upstream_server_error"
	case CategoryClient:
		return "upstream_client_error"
	default:
		return "none"
	}
}

// Retryable reports whether another key may succeed where this one failed.
func (c Category) Retryable() bool {
	return c == CategoryRateLimit || c == CategoryServer
}

// ClassifyStatus maps an upstream status code to a category.
func ClassifyStatus(code int) Category {
	switch {
	case code == http.StatusTooManyRequests:
		return CategoryRateLimit
	case code >= 500:
		return CategoryServer
	case code >= 400:
		return CategoryClient
	default:
		return CategoryNone
	}
}

// Classify inspects an error returned by the upstream client. Errors without
// an HTTP status (dial failures, resets, timeouts) count as server errors.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var se *providers.StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.StatusCode)
	}
	return CategoryServer
}

// Status returns the upstream status code carried by err, or 0.
func Status(err error) int {
	var se *providers.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
