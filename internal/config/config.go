// Package config loads tooling configuration from environment variables and
// an optional .env file. It drives the velum CLI and the local development
// server; SDK clients are configured in code instead.
package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/velum-io/appconfig-go/internal/models"
)

// Config holds the velum tool settings.
// Priority: environment variables > .env file > defaults.
type Config struct {
	ConfigFile    string // Configuration document path (VELUM_CONFIG_FILE)
	EnvironmentID string // Environment to operate on (VELUM_ENVIRONMENT_ID)
	CollectionID  string // Collection the dev server announces (VELUM_COLLECTION_ID)
	ListenAddr    string // Dev server bind address (VELUM_LISTEN_ADDR)
	APIKey        string // Optional bearer key the dev server requires (VELUM_API_KEY)
	RateLimit     int    // Dev server requests per minute per IP (VELUM_RATE_LIMIT)
	HeartbeatSecs int    // Notification stream heartbeat interval (VELUM_HEARTBEAT_SECONDS)
	LogLevel      string // zerolog level name (VELUM_LOG_LEVEL)
}

// Load reads configuration from environment variables and a .env file when
// one is present. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // optional; silently ignored when absent
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	setDefaults(v)

	return &Config{
		ConfigFile:    v.GetString("VELUM_CONFIG_FILE"),
		EnvironmentID: v.GetString("VELUM_ENVIRONMENT_ID"),
		CollectionID:  v.GetString("VELUM_COLLECTION_ID"),
		ListenAddr:    v.GetString("VELUM_LISTEN_ADDR"),
		APIKey:        v.GetString("VELUM_API_KEY"),
		RateLimit:     v.GetInt("VELUM_RATE_LIMIT"),
		HeartbeatSecs: v.GetInt("VELUM_HEARTBEAT_SECONDS"),
		LogLevel:      v.GetString("VELUM_LOG_LEVEL"),
	}, nil
}

// setDefaults registers values suitable for local development.
func setDefaults(v *viper.Viper) {
	v.SetDefault("VELUM_CONFIG_FILE", "appconfig.json")
	v.SetDefault("VELUM_ENVIRONMENT_ID", "dev")
	v.SetDefault("VELUM_COLLECTION_ID", "default")
	v.SetDefault("VELUM_LISTEN_ADDR", ":8097")
	v.SetDefault("VELUM_API_KEY", "")
	v.SetDefault("VELUM_RATE_LIMIT", 120)
	v.SetDefault("VELUM_HEARTBEAT_SECONDS", 30)
	v.SetDefault("VELUM_LOG_LEVEL", "info")
}

// Validate checks the configuration before the dev server starts, failing
// fast on misconfiguration. It returns a models.ValidationError naming the
// offending variable.
func (c *Config) Validate() error {
	if c.ConfigFile == "" {
		return models.ValidationError{
			Field:   "VELUM_CONFIG_FILE",
			Message: "configuration document path cannot be empty",
		}
	}
	if c.EnvironmentID == "" {
		return models.ValidationError{
			Field:   "VELUM_ENVIRONMENT_ID",
			Message: "environment id cannot be empty",
		}
	}
	if c.CollectionID == "" {
		return models.ValidationError{
			Field:   "VELUM_COLLECTION_ID",
			Message: "collection id cannot be empty",
		}
	}
	if c.ListenAddr == "" {
		return models.ValidationError{
			Field:   "VELUM_LISTEN_ADDR",
			Message: "listen address cannot be empty",
		}
	}
	if c.RateLimit <= 0 {
		return models.ValidationError{
			Field:   "VELUM_RATE_LIMIT",
			Message: fmt.Sprintf("must be positive, got %d", c.RateLimit),
		}
	}
	if c.HeartbeatSecs <= 0 {
		return models.ValidationError{
			Field:   "VELUM_HEARTBEAT_SECONDS",
			Message: fmt.Sprintf("must be positive, got %d", c.HeartbeatSecs),
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return models.ValidationError{
			Field:   "VELUM_LOG_LEVEL",
			Message: fmt.Sprintf("unknown log level %q", c.LogLevel),
		}
	}
	return nil
}

// Level returns the configured zerolog level, defaulting to info when the
// name does not parse.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
