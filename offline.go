package appconfig

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/store"
	"github.com/velum-io/appconfig-go/internal/telemetry"
)

var _ ConfigurationProvider = (*OfflineClient)(nil)

// OfflineClient evaluates a fixed local configuration document. It never
// touches the network; air-gapped deployments and tests use it in place of
// Client.
type OfflineClient struct {
	log       zerolog.Logger
	snapshots *snapshot.Store
	res       *resolver
}

// NewOfflineClient compiles the document named by cfg and returns a client
// serving it. The document is validated up front; a malformed one fails
// construction with ConfigurationError.
func NewOfflineClient(cfg OfflineConfig) (*OfflineClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	metrics := telemetry.NewWith(cfg.MetricsRegistry)

	data := cfg.Document
	if cfg.Path != "" {
		var err error
		data, err = store.NewFileStore(cfg.Path).Load()
		if err != nil {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("reading document at %s", cfg.Path),
				Err:    err,
			}
		}
	}

	doc, err := models.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Compile(doc, data, cfg.EnvironmentID, cfg.CollectionID)
	if err != nil {
		return nil, err
	}

	snapshots := snapshot.NewStore()
	snapshots.Publish(snap)
	metrics.RecordSnapshot(len(snap.FeatureIDs()), len(snap.PropertyIDs()))
	log.Info().
		Int("features", len(snap.FeatureIDs())).
		Int("properties", len(snap.PropertyIDs())).
		Msg("offline configuration loaded")

	return &OfflineClient{
		log:       log,
		snapshots: snapshots,
		res:       &resolver{snapshots: snapshots, metrics: metrics},
	}, nil
}

// Feature returns a handle on the feature with the given id.
func (c *OfflineClient) Feature(id string) (*Feature, error) { return c.res.featureHandle(id) }

// Property returns a handle on the property with the given id.
func (c *OfflineClient) Property(id string) (*Property, error) { return c.res.propertyHandle(id) }

// FeatureIDs lists all feature ids in the document's environment, sorted.
func (c *OfflineClient) FeatureIDs() ([]string, error) { return c.res.featureIDs() }

// PropertyIDs lists all property ids in the document's environment, sorted.
func (c *OfflineClient) PropertyIDs() ([]string, error) { return c.res.propertyIDs() }

// IsOnline always reports false.
func (c *OfflineClient) IsOnline() bool { return false }

// State always reports "offline".
func (c *OfflineClient) State() string { return "offline" }

// OnConfigurationUpdate returns a no-op cancel. The document never changes,
// so fn is never called.
func (c *OfflineClient) OnConfigurationUpdate(fn func()) (cancel func()) {
	return func() {}
}

// Close is a no-op; an offline client holds no background resources.
func (c *OfflineClient) Close() error { return nil }
