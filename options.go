package appconfig

import (
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/velum-io/appconfig-go/internal/live"
	"github.com/velum-io/appconfig-go/internal/models"
)

// DefaultIdentityURL is the global identity endpoint used when Config leaves
// IdentityURL empty.
const DefaultIdentityURL = "https://iam.cloud.velum.io"

// FallbackMode selects what a live client serves when the service cannot be
// reached before the first snapshot.
type FallbackMode int

const (
	// FallbackNone keeps retrying the service and serves nothing local.
	FallbackNone FallbackMode = iota
	// FallbackCache serves the last document persisted at CachePath.
	FallbackCache
	// FallbackBootstrap serves the document at BootstrapPath.
	FallbackBootstrap
)

// Config configures a live client.
type Config struct {
	// APIKey authenticates against the identity service.
	APIKey string

	// ServiceURL is the regional App Configuration endpoint, for example
	// https://eu-gb.appconfiguration.cloud.velum.io.
	ServiceURL string

	// IdentityURL overrides the token exchange endpoint. Optional.
	IdentityURL string

	// GUID identifies the service instance.
	GUID string

	// EnvironmentID and CollectionID select the configuration slice this
	// client evaluates.
	EnvironmentID string
	CollectionID  string

	// Fallback selects a local document to serve when the first fetch
	// fails. CachePath doubles as the persistent cache location: every
	// accepted service document is written there whenever it is set,
	// regardless of the fallback mode.
	Fallback      FallbackMode
	CachePath     string
	BootstrapPath string

	// NonBlocking makes NewClient return immediately; evaluation calls
	// fail with ErrNotReady until the first snapshot arrives. Ready
	// signals availability.
	NonBlocking bool

	// MeteringInterval is the usage flush period. Zero means 10 minutes;
	// a negative value disables metering entirely.
	MeteringInterval time.Duration

	// HTTPClient overrides the default transport (30s request timeout).
	HTTPClient *http.Client

	// Logger receives SDK logs. Nil disables logging.
	Logger *zerolog.Logger

	// MetricsRegistry, when set, receives the SDK's Prometheus collectors.
	MetricsRegistry *prometheus.Registry

	// ErrorHandler observes background failures (sync, metering) after
	// internal retries are exhausted. Optional; failures are always
	// logged. Called from SDK goroutines.
	ErrorHandler func(error)
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return models.ValidationError{Field: "APIKey", Message: "api key is required"}
	}
	if c.ServiceURL == "" {
		return models.ValidationError{Field: "ServiceURL", Message: "service URL is required"}
	}
	if u, err := url.Parse(c.ServiceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.ValidationError{Field: "ServiceURL", Message: "must be an http(s) URL"}
	}
	if c.GUID == "" {
		return models.ValidationError{Field: "GUID", Message: "instance guid is required"}
	}
	if c.EnvironmentID == "" {
		return models.ValidationError{Field: "EnvironmentID", Message: "environment id is required"}
	}
	if c.CollectionID == "" {
		return models.ValidationError{Field: "CollectionID", Message: "collection id is required"}
	}
	if c.Fallback == FallbackCache && c.CachePath == "" {
		return models.ValidationError{Field: "CachePath", Message: "required when Fallback is FallbackCache"}
	}
	if c.Fallback == FallbackBootstrap && c.BootstrapPath == "" {
		return models.ValidationError{Field: "BootstrapPath", Message: "required when Fallback is FallbackBootstrap"}
	}
	return nil
}

func (c *Config) fallbackMode() live.FallbackMode {
	switch c.Fallback {
	case FallbackCache:
		return live.FallbackCache
	case FallbackBootstrap:
		return live.FallbackBootstrap
	default:
		return live.FallbackNone
	}
}

// OfflineConfig configures an offline client. Exactly one of Path and
// Document supplies the configuration document.
type OfflineConfig struct {
	// Path to a configuration document on disk.
	Path string

	// Document is a raw configuration document.
	Document []byte

	// EnvironmentID and CollectionID select the configuration slice.
	EnvironmentID string
	CollectionID  string

	// Logger receives SDK logs. Nil disables logging.
	Logger *zerolog.Logger

	// MetricsRegistry, when set, receives the SDK's Prometheus collectors.
	MetricsRegistry *prometheus.Registry
}

func (c *OfflineConfig) validate() error {
	if (c.Path == "") == (len(c.Document) == 0) {
		return models.ValidationError{Field: "Path", Message: "exactly one of Path and Document must be set"}
	}
	if c.EnvironmentID == "" {
		return models.ValidationError{Field: "EnvironmentID", Message: "environment id is required"}
	}
	if c.CollectionID == "" {
		return models.ValidationError{Field: "CollectionID", Message: "collection id is required"}
	}
	return nil
}
