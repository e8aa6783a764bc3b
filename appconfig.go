package appconfig

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/velum-io/appconfig-go/internal/live"
	"github.com/velum-io/appconfig-go/internal/metering"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/store"
	"github.com/velum-io/appconfig-go/internal/telemetry"
	"github.com/velum-io/appconfig-go/internal/token"
	"github.com/velum-io/appconfig-go/internal/transport"
)

var _ ConfigurationProvider = (*Client)(nil)

// Client evaluates features and properties against configuration kept in
// step with the service. Create with NewClient; stop with Close.
type Client struct {
	log       zerolog.Logger
	metrics   *telemetry.Metrics
	snapshots *snapshot.Store
	pipeline  *live.Pipeline
	meter     *metering.Aggregator
	res       *resolver

	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	subMu      sync.Mutex
	subCancels []func()
}

// NewClient connects to the service and returns a client ready for
// evaluation. Unless cfg.NonBlocking is set it waits for the first
// configuration snapshot; ctx bounds that wait. Synchronisation continues
// in the background until Close.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	metrics := telemetry.NewWith(cfg.MetricsRegistry)

	identityURL := cfg.IdentityURL
	if identityURL == "" {
		identityURL = DefaultIdentityURL
	}
	tok := token.NewProvider(token.Config{
		IdentityURL: identityURL,
		APIKey:      cfg.APIKey,
		HTTPClient:  cfg.HTTPClient,
		Logger:      log.With().Str("component", "token").Logger(),
		Metrics:     metrics,
	})
	api := transport.NewClient(transport.Config{
		BaseURL:    cfg.ServiceURL,
		Token:      tok,
		HTTPClient: cfg.HTTPClient,
	})

	snapshots := snapshot.NewStore()

	var cache live.Cache
	if cfg.CachePath != "" {
		cache = store.NewFileStore(cfg.CachePath)
	}
	var bootstrap store.Source
	if cfg.BootstrapPath != "" {
		bootstrap = store.NewFileStore(cfg.BootstrapPath)
	}

	pipeline, err := live.New(live.Config{
		Transport:     api,
		Token:         tok,
		Store:         snapshots,
		ServiceURL:    cfg.ServiceURL,
		GUID:          cfg.GUID,
		EnvironmentID: cfg.EnvironmentID,
		CollectionID:  cfg.CollectionID,
		HTTPClient:    cfg.HTTPClient,
		Fallback:      cfg.fallbackMode(),
		Cache:         cache,
		Bootstrap:     bootstrap,
		Logger:        log.With().Str("component", "sync").Logger(),
		Metrics:       metrics,
		OnError:       cfg.ErrorHandler,
	})
	if err != nil {
		return nil, err
	}

	var meter *metering.Aggregator
	if cfg.MeteringInterval >= 0 {
		meter = metering.New(metering.Config{
			Uploader:      metering.NewHTTPUploader(api, cfg.GUID),
			CollectionID:  cfg.CollectionID,
			EnvironmentID: cfg.EnvironmentID,
			Interval:      cfg.MeteringInterval,
			Logger:        log.With().Str("component", "metering").Logger(),
			Metrics:       metrics,
			OnError:       cfg.ErrorHandler,
		})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		log:       log,
		metrics:   metrics,
		snapshots: snapshots,
		pipeline:  pipeline,
		meter:     meter,
		res:       &resolver{snapshots: snapshots, meter: meter, metrics: metrics},
		cancel:    cancel,
	}

	pipeline.Start(runCtx)
	if meter != nil {
		meter.Start()
	}
	log.Info().
		Str("environment", cfg.EnvironmentID).
		Str("collection", cfg.CollectionID).
		Msg("client started")

	if !cfg.NonBlocking {
		select {
		case <-pipeline.Ready():
		case <-ctx.Done():
			_ = c.Close()
			return nil, ctx.Err()
		}
	}
	return c, nil
}

// Feature returns a handle on the feature with the given id.
func (c *Client) Feature(id string) (*Feature, error) { return c.res.featureHandle(id) }

// Property returns a handle on the property with the given id.
func (c *Client) Property(id string) (*Property, error) { return c.res.propertyHandle(id) }

// FeatureIDs lists all feature ids in the current configuration, sorted.
func (c *Client) FeatureIDs() ([]string, error) { return c.res.featureIDs() }

// PropertyIDs lists all property ids in the current configuration, sorted.
func (c *Client) PropertyIDs() ([]string, error) { return c.res.propertyIDs() }

// IsOnline reports whether the notification stream is currently connected.
func (c *Client) IsOnline() bool { return c.pipeline.State() == live.StateOnline }

// State describes the sync pipeline: initializing, online, degraded or
// stopped.
func (c *Client) State() string { return c.pipeline.State().String() }

// Ready is closed once the first snapshot is available. With NonBlocking it
// tells the caller when evaluation stops returning ErrNotReady.
func (c *Client) Ready() <-chan struct{} { return c.pipeline.Ready() }

// OnConfigurationUpdate registers fn to run after every published
// configuration change. fn runs on an internal goroutine; bursts of updates
// may coalesce into a single call.
func (c *Client) OnConfigurationUpdate(fn func()) (cancel func()) {
	ch, stop := c.snapshots.Subscribe()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				fn()
			}
		}
	}()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			stop()
			close(done)
		})
	}

	c.subMu.Lock()
	c.subCancels = append(c.subCancels, cancel)
	c.subMu.Unlock()
	return cancel
}

// Close stops the sync pipeline, flushes pending usage records and releases
// all update registrations. It is idempotent. Evaluation against the last
// snapshot keeps working after Close.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.subMu.Lock()
		cancels := c.subCancels
		c.subCancels = nil
		c.subMu.Unlock()
		for _, cancelSub := range cancels {
			cancelSub()
		}

		select {
		case <-c.pipeline.Done():
		case <-time.After(5 * time.Second):
			c.log.Warn().Msg("sync pipeline did not stop in time")
		}

		if c.meter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c.closeErr = c.meter.Close(ctx)
		}
		c.log.Info().Msg("client closed")
	})
	return c.closeErr
}
