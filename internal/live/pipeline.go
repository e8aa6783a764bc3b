// Package live keeps the snapshot store in step with the configuration
// service. A pipeline runs one connect cycle at a time: fetch and publish
// the current document, open the notification stream, refetch on every
// change signal. When a cycle breaks it reconnects with jittered
// exponential backoff, serving the last published snapshot in the
// meantime. The pipeline owns the write side of the store; evaluation
// only ever reads.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/store"
	"github.com/velum-io/appconfig-go/internal/telemetry"
	"github.com/velum-io/appconfig-go/internal/transport"
)

// serverHeartbeat is the liveness frame the service writes on idle
// notification streams. It carries no configuration change.
const serverHeartbeat = "test message"

const (
	defaultHeartbeatGrace   = 120 * time.Second
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 60 * time.Second
	dialTimeout             = 30 * time.Second
)

// State describes the pipeline's connection to the service.
type State int32

const (
	// StateInitializing means no snapshot has been published yet.
	StateInitializing State = iota
	// StateOnline means the notification stream is connected and the
	// published snapshot is current.
	StateOnline
	// StateDegraded means the service is unreachable or rejecting
	// documents; evaluation continues against the last good snapshot.
	StateDegraded
	// StateStopped means the pipeline has wound down and will not
	// reconnect.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateOnline:
		return "online"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FallbackMode selects what the pipeline publishes when the service cannot
// be reached before the first snapshot.
type FallbackMode int

const (
	// FallbackNone keeps retrying the service; Ready stays open until a
	// fetch succeeds.
	FallbackNone FallbackMode = iota
	// FallbackCache publishes the most recently persisted document.
	FallbackCache
	// FallbackBootstrap publishes a packaged document.
	FallbackBootstrap
)

// TokenSource supplies bearer tokens for the notification stream handshake
// and is told when the service rejects one.
type TokenSource interface {
	Bearer(ctx context.Context) (string, error)
	Invalidate()
}

// Cache both persists accepted documents and serves them back for
// FallbackCache.
type Cache interface {
	store.Source
	store.Sink
}

// Config assembles a Pipeline. Transport, Token, Store, ServiceURL, GUID,
// EnvironmentID and CollectionID are required.
type Config struct {
	Transport *transport.Client
	Token     TokenSource
	Store     *snapshot.Store

	// ServiceURL is the regional endpoint; the notification stream URL is
	// derived from it (https becomes wss).
	ServiceURL    string
	GUID          string
	EnvironmentID string
	CollectionID  string

	// HTTPClient performs the stream handshake. Optional; a client with a
	// request timeout set is copied with the timeout cleared, since the
	// stream outlives any single request.
	HTTPClient *http.Client

	// Fallback selects the local document published when the first fetch
	// fails. Cache feeds FallbackCache and receives every accepted service
	// document; Bootstrap feeds FallbackBootstrap.
	Fallback  FallbackMode
	Cache     Cache
	Bootstrap store.Source

	// HeartbeatGrace is the longest silence tolerated on the stream before
	// the connection is considered dead. Defaults to 120s; the service
	// heartbeats every 60s.
	HeartbeatGrace time.Duration

	// ReconnectInitial and ReconnectMax bound the backoff between connect
	// cycles. Defaults: 1s and 60s.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics

	// OnError receives asynchronous failures (fetch errors, rejected
	// documents). Optional. Called from the pipeline goroutine.
	OnError func(error)
}

// Pipeline is the background synchronisation loop. Create with New, launch
// with Start, stop by cancelling the Start context.
type Pipeline struct {
	transport     *transport.Client
	token         TokenSource
	snapshots     *snapshot.Store
	guid          string
	environmentID string
	collectionID  string
	wsURL         string
	httpClient    *http.Client

	fallback  FallbackMode
	cache     Cache
	bootstrap store.Source

	heartbeatGrace   time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration

	log     zerolog.Logger
	metrics *telemetry.Metrics
	onError func(error)

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	// etag and fallbackTried are touched only from the run goroutine.
	etag          string
	fallbackTried bool
}

// New builds a pipeline. It does not connect; call Start.
func New(cfg Config) (*Pipeline, error) {
	wsURL, err := streamURL(cfg.ServiceURL, cfg.GUID, cfg.EnvironmentID, cfg.CollectionID)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient != nil && httpClient.Timeout > 0 {
		clone := *httpClient
		clone.Timeout = 0
		httpClient = &clone
	}

	p := &Pipeline{
		transport:        cfg.Transport,
		token:            cfg.Token,
		snapshots:        cfg.Store,
		guid:             cfg.GUID,
		environmentID:    cfg.EnvironmentID,
		collectionID:     cfg.CollectionID,
		wsURL:            wsURL,
		httpClient:       httpClient,
		fallback:         cfg.Fallback,
		cache:            cfg.Cache,
		bootstrap:        cfg.Bootstrap,
		heartbeatGrace:   cfg.HeartbeatGrace,
		reconnectInitial: cfg.ReconnectInitial,
		reconnectMax:     cfg.ReconnectMax,
		log:              cfg.Logger,
		metrics:          cfg.Metrics,
		onError:          cfg.OnError,
		ready:            make(chan struct{}),
		done:             make(chan struct{}),
	}
	if p.heartbeatGrace <= 0 {
		p.heartbeatGrace = defaultHeartbeatGrace
	}
	if p.reconnectInitial <= 0 {
		p.reconnectInitial = defaultReconnectInitial
	}
	if p.reconnectMax <= 0 {
		p.reconnectMax = defaultReconnectMax
	}
	return p, nil
}

// Start launches the pipeline and returns immediately. Cancelling ctx stops
// it; Done is closed once it has fully wound down.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

// Ready is closed after the first snapshot is published, whether it came
// from the service or from a fallback document.
func (p *Pipeline) Ready() <-chan struct{} { return p.ready }

// Done is closed when the pipeline has stopped.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// State returns the current connection state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer p.setState(StateStopped)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.reconnectInitial
	b.MaxInterval = p.reconnectMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.5

	for {
		connected, err := p.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.report(err)
		}
		if connected {
			b.Reset()
		}

		if p.snapshots.Ready() {
			p.setState(StateDegraded)
		} else {
			p.tryFallback()
		}

		wait := b.NextBackOff()
		p.metrics.RecordReconnect()
		p.log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session runs one connect cycle: refresh, open the notification stream,
// then refetch on every change signal until the stream breaks. The returned
// bool reports whether the stream came up at all, so the caller knows to
// reset its backoff.
func (p *Pipeline) session(ctx context.Context) (bool, error) {
	if err := p.refresh(ctx); err != nil {
		return false, err
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	p.setState(StateOnline)
	p.log.Info().Msg("notification stream connected")

	for {
		readCtx, cancel := context.WithTimeout(ctx, p.heartbeatGrace)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, &models.NetworkError{Op: "read notification", Err: err}
		}

		if string(data) == serverHeartbeat {
			p.log.Debug().Msg("server heartbeat")
			continue
		}

		p.log.Debug().Str("message", string(data)).Msg("configuration change signalled")
		if err := p.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			p.report(err)
			p.setState(StateDegraded)
			continue
		}
		p.setState(StateOnline)
	}
}

// refresh fetches the current document and publishes it. A 304 or an
// unchanged fingerprint publishes nothing.
func (p *Pipeline) refresh(ctx context.Context) error {
	res, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	if res.NotModified {
		p.log.Debug().Msg("configuration unchanged")
		return nil
	}
	if err := p.publish(res.Body, "service"); err != nil {
		return err
	}
	p.etag = res.ETag
	return nil
}

func (p *Pipeline) fetch(ctx context.Context) (transport.FetchResult, error) {
	query := url.Values{}
	query.Set("action", "sdkConfig")
	query.Set("environment_id", p.environmentID)
	query.Set("collection_id", p.collectionID)
	path := fmt.Sprintf("/feature/v1/instances/%s/config", url.PathEscape(p.guid))

	res, err := p.transport.GetRaw(ctx, path, query, p.etag)
	if transport.IsStatus(err, http.StatusUnauthorized) {
		// The token may have been revoked server-side; force a fresh
		// exchange and try once more before giving up on this cycle.
		p.log.Warn().Msg("configuration fetch rejected, refreshing token")
		p.token.Invalidate()
		res, err = p.transport.GetRaw(ctx, path, query, p.etag)
	}
	if err != nil {
		var authErr *models.AuthError
		if errors.As(err, &authErr) {
			return transport.FetchResult{}, err
		}
		if transport.IsStatus(err, http.StatusUnauthorized) {
			return transport.FetchResult{}, &models.AuthError{
				Status: http.StatusUnauthorized,
				Reason: "configuration fetch rejected",
			}
		}
		return transport.FetchResult{}, &models.NetworkError{Op: "fetch configuration", Err: err}
	}
	return res, nil
}

// publish parses, compiles and stores a document. Malformed documents are
// rejected and the previously published snapshot stays in force. Accepted
// service documents are persisted to the cache best-effort.
func (p *Pipeline) publish(data []byte, source string) error {
	doc, err := models.ParseDocument(data)
	if err != nil {
		return err
	}
	snap, err := snapshot.Compile(doc, data, p.environmentID, p.collectionID)
	if err != nil {
		return err
	}

	if cur, err := p.snapshots.Current(); err == nil && cur.Fingerprint == snap.Fingerprint {
		p.log.Debug().Msg("configuration unchanged")
		return nil
	}

	p.snapshots.Publish(snap)
	p.metrics.RecordSnapshot(len(snap.FeatureIDs()), len(snap.PropertyIDs()))
	p.log.Info().
		Str("source", source).
		Int("features", len(snap.FeatureIDs())).
		Int("properties", len(snap.PropertyIDs())).
		Msg("configuration snapshot published")

	if p.cache != nil && source == "service" {
		if err := p.cache.Save(data); err != nil {
			p.log.Warn().Err(err).Msg("failed to persist configuration cache")
		}
	}

	p.readyOnce.Do(func() { close(p.ready) })
	return nil
}

// tryFallback publishes the configured local document after the first
// failed cycle so callers blocked on Ready can proceed while reconnection
// continues. It runs at most once.
func (p *Pipeline) tryFallback() {
	if p.fallbackTried {
		return
	}
	p.fallbackTried = true

	var (
		src  store.Source
		name string
	)
	switch p.fallback {
	case FallbackCache:
		src, name = p.cache, "cache"
	case FallbackBootstrap:
		src, name = p.bootstrap, "bootstrap"
	default:
		return
	}
	if src == nil {
		return
	}

	data, err := src.Load()
	if err != nil {
		p.log.Warn().Err(err).Str("source", name).Msg("fallback document unavailable")
		return
	}
	if err := p.publish(data, name); err != nil {
		p.report(err)
		p.log.Warn().Err(err).Str("source", name).Msg("fallback document rejected")
		return
	}
	p.setState(StateDegraded)
	p.log.Info().Str("source", name).Msg("serving fallback configuration")
}

func (p *Pipeline) dial(ctx context.Context) (*websocket.Conn, error) {
	tok, err := p.token.Bearer(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	header.Set("User-Agent", transport.DefaultUserAgent)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, p.wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, &models.NetworkError{Op: "connect notification stream", Err: err}
	}
	return conn, nil
}

func (p *Pipeline) setState(s State) {
	if State(p.state.Swap(int32(s))) != s {
		p.metrics.RecordSyncState(int(s))
		p.log.Debug().Stringer("state", s).Msg("sync state changed")
	}
}

func (p *Pipeline) report(err error) {
	if p.onError != nil && err != nil {
		p.onError(err)
	}
}

// streamURL derives the notification stream endpoint from the service URL.
func streamURL(serviceURL, guid, environmentID, collectionID string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", &models.ValidationError{Field: "ServiceURL", Message: "not a valid URL: " + err.Error()}
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", &models.ValidationError{Field: "ServiceURL", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/apprapp/wsfeature"

	q := u.Query()
	q.Set("instance_id", guid)
	q.Set("collection_id", collectionID)
	q.Set("environment_id", environmentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
