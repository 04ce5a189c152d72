package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoJSON_DecodesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("missing header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, err := NewWithBaseURL(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("base url: %v", err)
	}

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.DoJSON(context.Background(), http.MethodPost, "v1/x", map[string]string{"X-Api-Key": "k"}, map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
}

func TestPostJSON_ReturnsStatusOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	status, err := New(time.Second).PostJSON(context.Background(), srv.URL, nil, map[string]string{})
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", status)
	}
	var he *HTTPError
	if !errors.As(err, &he) || he.Body != "nope" {
		t.Fatalf("expected HTTPError with body, got %v", err)
	}
}

func TestResolveURL_RelativeWithoutBase(t *testing.T) {
	if _, err := New(0).PostJSON(context.Background(), "/x", nil, nil); err == nil {
		t.Fatalf("expected error for relative path without base url")
	}
}

func TestDoJSON_RetriesOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := New(time.Second).WithRetries(2, time.Millisecond)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, nil, map[string]int{"n": 1}, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out.OK || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, calls=%d", calls.Load())
	}
}

func TestDoJSON_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(time.Second).WithRetries(3, time.Millisecond).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	if StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	if StatusCode(errors.New("plain")) != 0 {
		t.Fatalf("expected 0 for non-http errors")
	}
}
