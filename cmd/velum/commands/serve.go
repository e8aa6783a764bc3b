package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/velum-io/appconfig-go/internal/config"
	"github.com/velum-io/appconfig-go/internal/devserver"
	"github.com/velum-io/appconfig-go/internal/store"
	"github.com/velum-io/appconfig-go/internal/telemetry"
)

var (
	serveAddr   string
	serveAPIKey string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the document as a local configuration service",
	Long: `Serve the configuration document over the same HTTP and websocket surface
as the hosted service. The document is reloaded and connected clients are
notified whenever the file changes on disk.

Settings come from the environment (VELUM_* variables, optionally via a
.env file), with command line flags taking precedence.

Examples:
  velum serve --file appconfig.json
  velum serve --file appconfig.json --addr :8097 --api-key local-secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("file") {
			cfg.ConfigFile = file
		}
		if cmd.Flags().Changed("environment") {
			cfg.EnvironmentID = environment
		}
		if cmd.Flags().Changed("collection") {
			cfg.CollectionID = collection
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}
		if serveAPIKey != "" {
			cfg.APIKey = serveAPIKey
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := cfg.Level()
		if verbose {
			level = zerolog.DebugLevel
		}
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

		fs := store.NewFileStore(cfg.ConfigFile)
		s, err := devserver.New(devserver.Config{
			Source:        fs,
			EnvironmentID: cfg.EnvironmentID,
			CollectionID:  cfg.CollectionID,
			APIKey:        cfg.APIKey,
			RateLimit:     cfg.RateLimit,
			Heartbeat:     time.Duration(cfg.HeartbeatSecs) * time.Second,
			Logger:        log,
			Metrics:       telemetry.New(),
		})
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      s.Handler(),
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := s.Watch(ctx, fs.Path()); err != nil {
				log.Warn().Err(err).Msg("file watch stopped")
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.ListenAddr).Str("file", cfg.ConfigFile).Msg("listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		// graceful shutdown
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info().Msg("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides VELUM_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Require this API key at the token endpoint")
}
