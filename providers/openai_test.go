package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestOpenAI_DoSendsBearerAndOverridesModel(t *testing.T) {
	t.Parallel()

	var gotAuth, gotModel, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotModel = gjson.GetBytes(body, "model").String()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	o := &OpenAI{BaseURL: srv.URL + "/v1/", Model: "gemini-2.0-flash"}
	header := http.Header{"Authorization": []string{"Bearer client-token"}}
	res, err := o.Do(context.Background(), header, http.MethodPost, "/chat/completions", "sk-upstream", []byte(`{"model":"gpt-4o","messages":[]}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer res.Body.Close()

	if gotAuth != "Bearer sk-upstream" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotModel != "gemini-2.0-flash" {
		t.Fatalf("model = %q", gotModel)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if header.Get("Authorization") != "Bearer client-token" {
		t.Fatalf("caller header was mutated")
	}
}

func TestOpenAI_DoReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota"}`))
	}))
	defer srv.Close()

	o := &OpenAI{BaseURL: srv.URL}
	_, err := o.Do(context.Background(), nil, http.MethodPost, "chat/completions", "sk", []byte(`{}`))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusTooManyRequests || se.Header.Get("Retry-After") != "7" || string(se.Body) != `{"error":"quota"}` {
		t.Fatalf("unexpected error %+v", se)
	}
}

func TestNewClient_BodyOutlivesHeaderTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"data: 1\n\n", "data: 2\n\n", "data: 3\n\n"} {
			_, _ = w.Write([]byte(chunk))
			w.(http.Flusher).Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}))
	defer srv.Close()

	o := &OpenAI{BaseURL: srv.URL, Client: NewClient(50 * time.Millisecond)}
	res, err := o.Do(context.Background(), nil, http.MethodPost, "/chat/completions", "sk", []byte(`{}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("stream cut short: %v", err)
	}
	if string(body) != "data: 1\n\ndata: 2\n\ndata: 3\n\n" {
		t.Fatalf("unexpected stream %q", body)
	}
}

func TestNewClient_HeaderTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	o := &OpenAI{BaseURL: srv.URL, Client: NewClient(30 * time.Millisecond)}
	if _, err := o.Do(context.Background(), nil, http.MethodPost, "/chat/completions", "sk", []byte(`{}`)); err == nil {
		t.Fatalf("expected a response header timeout")
	}
}
