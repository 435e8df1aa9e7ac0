package cooldown

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atopos31/keyrelay/providers"
)

// Manager computes how long a rate-limited key stays out of rotation.
type Manager struct {
	now         func() time.Time
	maxCooldown time.Duration
}

// NewManager returns a Manager that reads time from now.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		now:         now,
		maxCooldown: 24 * time.Hour,
	}
}

// Until returns the end of the cooldown for a rate-limit error: the reset
// time announced by the upstream when there is one, otherwise now+fallback.
func (m *Manager) Until(err error, fallback time.Duration) time.Time {
	now := m.now()
	var se *providers.StatusError
	if errors.As(err, &se) {
		if reset, ok := ResetAt(se.Header, now); ok {
			if reset.Sub(now) > m.maxCooldown {
				return now.Add(m.maxCooldown)
			}
			return reset
		}
	}
	return now.Add(fallback)
}

// ResetAt reads the reset time from well-known rate-limit headers. Only
// times after now are reported.
func ResetAt(h http.Header, now time.Time) (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return after(now, now.Add(time.Duration(secs*float64(time.Second))))
		}
		if t, err := http.ParseTime(v); err == nil {
			return after(now, t)
		}
	}
	// OpenAI style: "1s", "6m0s", "120ms"
	if v := strings.TrimSpace(h.Get("X-Ratelimit-Reset-Requests")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return after(now, now.Add(d))
		}
	}
	if v := strings.TrimSpace(h.Get("X-Ratelimit-Reset")); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return after(now, time.Unix(unix, 0))
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return after(now, t)
		}
	}
	if v := strings.TrimSpace(h.Get("Anthropic-Ratelimit-Requests-Reset")); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return after(now, t)
		}
	}
	return time.Time{}, false
}

func after(now, t time.Time) (time.Time, bool) {
	if !t.After(now) {
		return time.Time{}, false
	}
	return t, true
}
