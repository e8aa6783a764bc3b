// Package token exchanges the service API key for short-lived bearer tokens
// and caches them until shortly before expiry. Concurrent callers share one
// in-flight exchange and its result.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/telemetry"
)

// grantType is the OAuth grant used to exchange an API key for a token.
const grantType = "urn:velum:params:oauth:grant-type:apikey"

// State is the observable lifecycle of the cached token.
type State int32

const (
	StateUnauthenticated State = iota
	StateValid
	StateNearExpiry
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateValid:
		return "valid"
	case StateNearExpiry:
		return "near-expiry"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config carries the settings for a Provider.
type Config struct {
	// IdentityURL is the base URL of the identity service; the exchange
	// endpoint path is appended.
	IdentityURL string
	APIKey      string
	HTTPClient  *http.Client
	// Margin is subtracted from the token lifetime; a token inside the
	// margin counts as expired. Defaults to one minute.
	Margin time.Duration
	// MaxTries bounds exchange attempts per refresh. Defaults to 3.
	MaxTries uint
	// RetryInitial is the first retry delay. Defaults to one second.
	RetryInitial time.Duration
	Logger       zerolog.Logger
	Metrics      *telemetry.Metrics
}

// Provider exchanges an API key for bearer tokens and caches the result.
type Provider struct {
	identityURL  string
	apiKey       string
	httpClient   *http.Client
	margin       time.Duration
	maxTries     uint
	retryInitial time.Duration
	log          zerolog.Logger
	metrics      *telemetry.Metrics

	group singleflight.Group
	state atomic.Int32

	mu     sync.Mutex
	cached cachedToken

	now func() time.Time
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// NewProvider creates a token provider for the given identity endpoint.
func NewProvider(cfg Config) *Provider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	margin := cfg.Margin
	if margin == 0 {
		margin = time.Minute
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}
	retryInitial := cfg.RetryInitial
	if retryInitial == 0 {
		retryInitial = time.Second
	}
	return &Provider{
		identityURL:  strings.TrimRight(cfg.IdentityURL, "/"),
		apiKey:       cfg.APIKey,
		httpClient:   httpClient,
		margin:       margin,
		maxTries:     maxTries,
		retryInitial: retryInitial,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// State returns the current token lifecycle state.
func (p *Provider) State() State {
	return State(p.state.Load())
}

// Bearer returns a token valid for at least the configured margin,
// exchanging the API key when the cached one is missing or near expiry.
// Concurrent callers join a single exchange; the exchange itself outlives
// any one caller's context.
func (p *Provider) Bearer(ctx context.Context) (string, error) {
	if tok, ok := p.current(); ok {
		return tok, nil
	}

	ch := p.group.DoChan("refresh", func() (any, error) {
		return p.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate discards the cached token so the next Bearer call performs a
// fresh exchange. The sync pipeline calls this when the service rejects a
// request with 401.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = cachedToken{}
	p.mu.Unlock()
	p.state.Store(int32(StateUnauthenticated))
}

func (p *Provider) current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached.value == "" {
		return "", false
	}
	if p.now().Add(p.margin).After(p.cached.expiry) {
		p.state.Store(int32(StateNearExpiry))
		return "", false
	}
	return p.cached.value, true
}

func (p *Provider) refresh(ctx context.Context) (string, error) {
	p.state.Store(int32(StateRefreshing))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInitial
	b.Multiplier = 2

	tok, err := backoff.Retry(ctx, func() (cachedToken, error) {
		tok, err := p.exchange(ctx)
		if err != nil {
			var authErr *models.AuthError
			if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
				// A rejected key will not heal on retry.
				return cachedToken{}, backoff.Permanent(err)
			}
			return cachedToken{}, err
		}
		return tok, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.log.Warn().Err(err).Dur("retry_in", wait).Msg("token exchange failed")
		}),
	)
	if err != nil {
		p.state.Store(int32(StateFailed))
		p.metrics.RecordTokenRefresh(false)
		var authErr *models.AuthError
		if !errors.As(err, &authErr) {
			err = &models.AuthError{Reason: err.Error()}
		}
		p.log.Error().Err(err).Msg("token refresh exhausted")
		return "", err
	}

	p.mu.Lock()
	p.cached = tok
	p.mu.Unlock()
	p.state.Store(int32(StateValid))
	p.metrics.RecordTokenRefresh(true)
	p.log.Debug().Time("expiry", tok.expiry).Msg("bearer token refreshed")
	return tok.value, nil
}

func (p *Provider) exchange(ctx context.Context) (cachedToken, error) {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("apikey", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.identityURL+"/identity/token", strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return cachedToken{}, &models.NetworkError{Op: "exchange token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return cachedToken{}, &models.AuthError{Status: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return cachedToken{}, &models.AuthError{Reason: "malformed token response: " + err.Error()}
	}
	if payload.AccessToken == "" {
		return cachedToken{}, &models.AuthError{Reason: "token response without access_token"}
	}
	return cachedToken{
		value:  payload.AccessToken,
		expiry: p.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}
