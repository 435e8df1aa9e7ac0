package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/atopos31/keyrelay/consts"
	"github.com/atopos31/keyrelay/providers"
	"github.com/atopos31/keyrelay/service/cooldown"
	"github.com/atopos31/keyrelay/service/rotation"
	"github.com/atopos31/keyrelay/service/settings"
	"github.com/atopos31/keyrelay/service/usage"
	"github.com/google/uuid"
)

// KeySource hands out keys and takes back attempt outcomes.
type KeySource interface {
	GetKey(ctx context.Context) (rotation.Lease, error)
	MarkSuccess(ctx context.Context, lease rotation.Lease) error
	MarkError(ctx context.Context, lease rotation.Lease, cause error) bool
	Release(lease rotation.Lease)
}

// Upstream performs a single attempt with the given credential.
type Upstream interface {
	Do(ctx context.Context, header http.Header, method, path, secret string, body []byte) (*http.Response, error)
}

// Request is one logical call to proxy.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Orchestrator runs a proxied call across keys until one succeeds.
type Orchestrator struct {
	keys     KeySource
	upstream Upstream
	settings settings.Source
	sink     usage.Sink
	now      func() time.Time
}

// New builds an Orchestrator. A nil sink drops events.
func New(keys KeySource, upstream Upstream, src settings.Source, sink usage.Sink) *Orchestrator {
	if sink == nil {
		sink = usage.Discard{}
	}
	return &Orchestrator{keys: keys, upstream: upstream, settings: src, sink: sink, now: time.Now}
}

// Do proxies req, retrying rate limits and upstream server errors on fresh
// keys. On success the upstream response is returned unread; the caller
// closes its body. Failures are *Error values, except for context errors and
// key store failures.
func (o *Orchestrator) Do(ctx context.Context, req Request) (*http.Response, error) {
	start := o.now()
	requestID := uuid.NewString()
	maxRetries := max(o.settings.Read(ctx).MaxRetries, 1)

	var (
		lastErr error
		lastCat cooldown.Category
		lastKey uint
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		lease, err := o.keys.GetKey(ctx)
		if errors.Is(err, rotation.ErrNoAvailableKey) {
			perr := &Error{Kind: KindNoAvailableKey, Attempts: attempt, Err: err}
			o.record(requestID, req, lastKey, start, 0, perr.Kind, attempt)
			return nil, perr
		}
		if err != nil {
			o.record(requestID, req, lastKey, start, 0, "key_store_error", attempt)
			return nil, fmt.Errorf("get key: %w", err)
		}
		lastKey = lease.KeyID

		res, err := o.upstream.Do(ctx, req.Header, req.Method, req.Path, lease.Secret, req.Body)
		if err == nil {
			if err := o.keys.MarkSuccess(ctx, lease); err != nil {
				slog.Error("Failed to record success", "error", err, "key_id", lease.KeyID)
			}
			o.record(requestID, req, lease.KeyID, start, res.StatusCode, "", attempt+1)
			return res, nil
		}
		if ctx.Err() != nil {
			// the caller is gone; the attempt says nothing about the key
			o.keys.Release(lease)
			o.record(requestID, req, lease.KeyID, start, 0, "canceled", attempt+1)
			return nil, ctx.Err()
		}

		cat := cooldown.Classify(err)
		if o.keys.MarkError(ctx, lease, err) {
			cat = cooldown.CategoryRateLimit
		}
		lastErr, lastCat = err, cat
		slog.Warn("Upstream attempt failed",
			"request_id", requestID,
			"attempt", attempt+1,
			"key_id", lease.KeyID,
			"status", cooldown.Status(err),
			"category", cat.String(),
		)
		if !cat.Retryable() {
			perr := newError(kindOf(cat), err, attempt+1)
			o.record(requestID, req, lease.KeyID, start, perr.StatusCode, perr.Kind, attempt+1)
			return nil, perr
		}
	}

	perr := newError(KindMaxRetriesExceeded, lastErr, maxRetries)
	perr.Last = kindOf(lastCat)
	o.record(requestID, req, lastKey, start, perr.StatusCode, perr.Kind, maxRetries)
	return nil, perr
}

func newError(kind Kind, cause error, attempts int) *Error {
	perr := &Error{Kind: kind, Attempts: attempts, Err: cause}
	var se *providers.StatusError
	if errors.As(cause, &se) {
		perr.StatusCode = se.StatusCode
		perr.Header = se.Header
		perr.Body = se.Body
	}
	return perr
}

func (o *Orchestrator) record(requestID string, req Request, keyID uint, start time.Time, status int, kind Kind, attempts int) {
	o.sink.Emit(usage.Event{
		Type:      consts.EventRequest,
		KeyID:     keyID,
		Timestamp: o.now(),
		RequestID: requestID,
		Status:    status,
		Latency:   o.now().Sub(start),
		ErrorKind: string(kind),
		Fields: map[string]any{
			"attempts": attempts,
			"method":   req.Method,
			"path":     req.Path,
		},
	})
}
