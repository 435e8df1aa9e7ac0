package cooldown

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/atopos31/keyrelay/providers"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]Category{
		200: CategoryNone,
		400: CategoryClient,
		401: CategoryClient,
		403: CategoryClient,
		429: CategoryRateLimit,
		500: CategoryServer,
		503: CategoryServer,
	}
	for code, want := range cases {
		if got := ClassifyStatus(code); got != want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("attempt: %w", &providers.StatusError{StatusCode: 429})
	if got := Classify(wrapped); got != CategoryRateLimit {
		t.Fatalf("wrapped 429 = %v", got)
	}
	if got := Classify(errors.New("connection reset")); got != CategoryServer {
		t.Fatalf("transport error = %v", got)
	}
	if got := Classify(nil); got != CategoryNone {
		t.Fatalf("nil = %v", got)
	}
	if !CategoryRateLimit.Retryable() || !CategoryServer.Retryable() || CategoryClient.Retryable() {
		t.Fatalf("unexpected Retryable results")
	}
	if Status(wrapped) != 429 || Status(errors.New("x")) != 0 {
		t.Fatalf("unexpected Status results")
	}
}

func TestResetAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		header http.Header
		want   time.Time
		ok     bool
	}{
		{"none", http.Header{}, time.Time{}, false},
		{"retry-after seconds", http.Header{"Retry-After": {"30"}}, now.Add(30 * time.Second), true},
		{"retry-after date", http.Header{"Retry-After": {now.Add(time.Minute).Format(http.TimeFormat)}}, now.Add(time.Minute), true},
		{"openai duration", http.Header{"X-Ratelimit-Reset-Requests": {"6m0s"}}, now.Add(6 * time.Minute), true},
		{"unix reset", http.Header{"X-Ratelimit-Reset": {fmt.Sprint(now.Add(90 * time.Second).Unix())}}, now.Add(90 * time.Second), true},
		{"anthropic reset", http.Header{"Anthropic-Ratelimit-Requests-Reset": {now.Add(2 * time.Minute).Format(time.RFC3339)}}, now.Add(2 * time.Minute), true},
		{"reset in the past", http.Header{"Retry-After": {"0"}}, time.Time{}, false},
		{"garbage", http.Header{"Retry-After": {"soon"}}, time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := ResetAt(tc.header, now)
		if ok != tc.ok || !got.Equal(tc.want) {
			t.Errorf("%s: ResetAt = %v, %v; want %v, %v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestManager_Until(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(func() time.Time { return now })

	plain := &providers.StatusError{StatusCode: 429}
	if got := m.Until(plain, time.Minute); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("fallback cooldown = %v", got)
	}

	hinted := &providers.StatusError{StatusCode: 429, Header: http.Header{"Retry-After": {"5"}}}
	if got := m.Until(hinted, time.Minute); !got.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("hinted cooldown = %v", got)
	}

	huge := &providers.StatusError{StatusCode: 429, Header: http.Header{"Retry-After": {"999999"}}}
	if got := m.Until(huge, time.Minute); !got.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("cooldown should be capped, got %v", got)
	}
}
