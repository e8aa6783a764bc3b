// Package transport is the authenticated HTTP layer shared by the
// configuration fetch and usage upload paths: bearer injection, request
// correlation headers and uniform status handling.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const version = "0.4.0"

// DefaultUserAgent identifies this SDK to the service.
const DefaultUserAgent = "appconfig-go/" + version

// TokenSource supplies a bearer token for outgoing requests.
type TokenSource interface {
	Bearer(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Config carries the settings for a Client.
type Config struct {
	BaseURL    string
	Token      TokenSource
	UserAgent  string
	HTTPClient *http.Client
}

// Client is an authenticated HTTP client for one service endpoint.
type Client struct {
	baseURL    string
	token      TokenSource
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

// FetchResult is the outcome of a GET: the raw body and the response ETag,
// or NotModified when the server answered 304 to a conditional request.
type FetchResult struct {
	Body        []byte
	ETag        string
	NotModified bool
}

// GetRaw performs an authenticated GET and returns the raw response body.
// When ifNoneMatch is non-empty it is sent as If-None-Match and a 304
// answer is reported through NotModified instead of an error.
func (c *Client) GetRaw(ctx context.Context, path string, query url.Values, ifNoneMatch string) (FetchResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.decorate(ctx, req); err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{ETag: ifNoneMatch, NotModified: true}, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return FetchResult{}, readAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to read response: %w", err)
	}
	return FetchResult{Body: body, ETag: resp.Header.Get("ETag")}, nil
}

// PostJSON performs an authenticated POST with a JSON body and expects a
// 2xx answer.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.decorate(ctx, req); err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return readAPIError(resp)
	}
	return nil
}

func (c *Client) decorate(ctx context.Context, req *http.Request) error {
	if c.token != nil {
		tok, err := c.token.Bearer(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
