package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"
)

// maxErrorBody bounds how much of a failed upstream reply is kept.
const maxErrorBody = 64 << 10

// StatusError is a non-2xx upstream reply. The body has been read and closed.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// OpenAI talks to an OpenAI-compatible endpoint.
type OpenAI struct {
	BaseURL string
	// Model, when set, replaces the model named in request bodies.
	Model  string
	Client *http.Client
}

// NewClient returns a client that waits at most headerTimeout for the
// upstream response headers. The body has no deadline so long SSE streams
// run to completion; request contexts still cancel them.
func NewClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

func (o *OpenAI) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

// BuildReq prepares one upstream request authorized with secret.
func (o *OpenAI) BuildReq(ctx context.Context, header http.Header, method, path, secret string, rawBody []byte) (*http.Request, error) {
	body := rawBody
	if o.Model != "" && len(rawBody) > 0 {
		var err error
		if body, err = sjson.SetBytes(rawBody, "model", o.Model); err != nil {
			return nil, err
		}
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	url := strings.TrimRight(o.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header.Clone()
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", secret))
	return req, nil
}

// Do performs one attempt. A 2xx reply is returned with its body open;
// anything else becomes a *StatusError.
func (o *OpenAI) Do(ctx context.Context, header http.Header, method, path, secret string, body []byte) (*http.Response, error) {
	req, err := o.BuildReq(ctx, header, method, path, secret, body)
	if err != nil {
		return nil, err
	}
	res, err := o.client().Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return nil, &StatusError{StatusCode: res.StatusCode, Header: res.Header, Body: data}
}
