package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type staticToken string

func (s staticToken) Bearer(_ context.Context) (string, error) {
	return string(s), nil
}

type failingToken struct{}

func (failingToken) Bearer(_ context.Context) (string, error) {
	return "", errors.New("no credentials")
}

func TestGetRaw_HeadersAndBody(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", Token: staticToken("tok-1")})
	res, err := c.GetRaw(context.Background(), "/feature/v1/instances/g1/config", url.Values{"action": {"sdkConfig"}}, "")
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}

	if string(res.Body) != `{"ok":true}` {
		t.Fatalf("body = %s", res.Body)
	}
	if res.ETag != `"abc123"` {
		t.Fatalf("etag = %q", res.ETag)
	}
	if res.NotModified {
		t.Fatal("unexpected NotModified")
	}
	if got := gotReq.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := gotReq.Header.Get("User-Agent"); !strings.HasPrefix(got, "appconfig-go/") {
		t.Fatalf("User-Agent = %q", got)
	}
	if gotReq.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}
	if got := gotReq.URL.Query().Get("action"); got != "sdkConfig" {
		t.Fatalf("action = %q", got)
	}
}

func TestGetRaw_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: staticToken("t")})

	first, err := c.GetRaw(context.Background(), "/config", nil, "")
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	second, err := c.GetRaw(context.Background(), "/config", nil, first.ETag)
	if err != nil {
		t.Fatalf("GetRaw conditional: %v", err)
	}
	if !second.NotModified {
		t.Fatal("expected NotModified")
	}
	if second.ETag != `"v1"` {
		t.Fatalf("etag = %q", second.ETag)
	}
}

func TestGetRaw_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: staticToken("t")})
	_, err := c.GetRaw(context.Background(), "/config", nil, "")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Body != "unauthorized" {
		t.Fatalf("Body = %q", apiErr.Body)
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatal("IsStatus(401) = false")
	}
	if IsStatus(err, http.StatusForbidden) {
		t.Fatal("IsStatus(403) = true")
	}
}

func TestPostJSON(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: staticToken("t")})
	err := c.PostJSON(context.Background(), "/usage", map[string]any{"count": 3})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
	if gotBody["count"] != 3.0 {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestTokenFailureStopsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: failingToken{}})
	_, err := c.GetRaw(context.Background(), "/config", nil, "")
	if err == nil || !strings.Contains(err.Error(), "no credentials") {
		t.Fatalf("err = %v", err)
	}
	if called {
		t.Fatal("request should not reach the server without a token")
	}
}
