package appconfig

import (
	"github.com/velum-io/appconfig-go/internal/engine"
	"github.com/velum-io/appconfig-go/internal/metering"
	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/telemetry"
)

// ConfigurationProvider is the read surface shared by Client and
// OfflineClient: look up features and properties, evaluate them for
// entities, observe configuration changes.
type ConfigurationProvider interface {
	// Feature returns a handle on the feature with the given id, or
	// NotFoundError when the current configuration has no such feature.
	Feature(id string) (*Feature, error)

	// Property returns a handle on the property with the given id.
	Property(id string) (*Property, error)

	// FeatureIDs lists all feature ids in the current configuration, sorted.
	FeatureIDs() ([]string, error)

	// PropertyIDs lists all property ids in the current configuration, sorted.
	PropertyIDs() ([]string, error)

	// OnConfigurationUpdate registers fn to run after every configuration
	// change. The returned cancel releases the registration and is safe to
	// call more than once.
	OnConfigurationUpdate(fn func()) (cancel func())

	// IsOnline reports whether the provider is connected to the service.
	IsOnline() bool

	// State describes the provider's current lifecycle state.
	State() string

	// Close releases background resources. Evaluation against the last
	// snapshot keeps working after Close.
	Close() error
}

// resolver evaluates against the store's current snapshot and feeds the
// usage and metrics sinks. It backs both client flavours; meter is nil for
// offline and metering-disabled clients.
type resolver struct {
	snapshots *snapshot.Store
	meter     *metering.Aggregator
	metrics   *telemetry.Metrics
}

func (r *resolver) evaluateFeature(id string, e Entity) (engine.Result, error) {
	snap, err := r.snapshots.Current()
	if err != nil {
		return engine.Result{}, err
	}
	res, err := engine.EvaluateFeature(snap, id, e)
	if err != nil {
		return engine.Result{}, err
	}
	if r.meter != nil {
		r.meter.Record(metering.KindFeature, id, res.SegmentID)
	}
	r.metrics.RecordEvaluation("feature", res.SegmentID != "")
	return res, nil
}

func (r *resolver) evaluateProperty(id string, e Entity) (engine.Result, error) {
	snap, err := r.snapshots.Current()
	if err != nil {
		return engine.Result{}, err
	}
	res, err := engine.EvaluateProperty(snap, id, e)
	if err != nil {
		return engine.Result{}, err
	}
	if r.meter != nil {
		r.meter.Record(metering.KindProperty, id, res.SegmentID)
	}
	r.metrics.RecordEvaluation("property", res.SegmentID != "")
	return res, nil
}

func (r *resolver) featureHandle(id string) (*Feature, error) {
	snap, err := r.snapshots.Current()
	if err != nil {
		return nil, err
	}
	f, ok := snap.Feature(id)
	if !ok {
		return nil, models.NotFoundError{Kind: "feature", ID: id}
	}
	return &Feature{
		id:      f.ID,
		name:    f.Name,
		kind:    string(f.Kind),
		enabled: f.Enabled,
		res:     r,
	}, nil
}

func (r *resolver) propertyHandle(id string) (*Property, error) {
	snap, err := r.snapshots.Current()
	if err != nil {
		return nil, err
	}
	p, ok := snap.Property(id)
	if !ok {
		return nil, models.NotFoundError{Kind: "property", ID: id}
	}
	return &Property{
		id:   p.ID,
		name: p.Name,
		kind: string(p.Kind),
		res:  r,
	}, nil
}

func (r *resolver) featureIDs() ([]string, error) {
	snap, err := r.snapshots.Current()
	if err != nil {
		return nil, err
	}
	return snap.FeatureIDs(), nil
}

func (r *resolver) propertyIDs() ([]string, error) {
	snap, err := r.snapshots.Current()
	if err != nil {
		return nil, err
	}
	return snap.PropertyIDs(), nil
}

// Feature is a read handle on one feature flag. Identity and metadata are
// fixed at lookup time; Evaluate and IsEnabled always run against the
// latest published configuration.
type Feature struct {
	id      string
	name    string
	kind    string
	enabled bool
	res     *resolver
}

// ID returns the feature id.
func (f *Feature) ID() string { return f.id }

// Name returns the feature's display name.
func (f *Feature) Name() string { return f.name }

// Kind returns the value type: BOOLEAN, STRING or NUMERIC.
func (f *Feature) Kind() string { return f.kind }

// Enabled reports the flag's toggle state as of the lookup. It ignores
// targeting and rollout; use IsEnabled for a per-entity answer.
func (f *Feature) Enabled() bool { return f.enabled }

// Evaluate resolves the feature's value for the entity.
func (f *Feature) Evaluate(e Entity) (any, error) {
	res, err := f.res.evaluateFeature(f.id, e)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// IsEnabled reports whether the entity receives the enabled-side value,
// after targeting and rollout.
func (f *Feature) IsEnabled(e Entity) (bool, error) {
	res, err := f.res.evaluateFeature(f.id, e)
	if err != nil {
		return false, err
	}
	return res.Enabled, nil
}

// Property is a read handle on one configuration property.
type Property struct {
	id   string
	name string
	kind string
	res  *resolver
}

// ID returns the property id.
func (p *Property) ID() string { return p.id }

// Name returns the property's display name.
func (p *Property) Name() string { return p.name }

// Kind returns the value type: BOOLEAN, STRING or NUMERIC.
func (p *Property) Kind() string { return p.kind }

// Evaluate resolves the property's value for the entity.
func (p *Property) Evaluate(e Entity) (any, error) {
	res, err := p.res.evaluateProperty(p.id, e)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}
