package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/store"
)

var (
	// Global flags
	file        string
	format      string
	environment string
	collection  string
	quiet       bool
	verbose     bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "velum",
	Short: "CLI tool for working with App Configuration documents",
	Long: `Velum is a command-line tool for working with App Configuration documents:
inspect and validate them, evaluate features and properties for test
entities, and serve a document locally as a stand-in for the cloud service.

Examples:
  velum list --file appconfig.json --environment dev
  velum get dark-mode --environment dev
  velum evaluate dark-mode --entity-id u1 --attr plan=beta
  velum validate --file appconfig.json
  velum serve --file appconfig.json --addr :8097`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&file, "file", "appconfig.json", "Path to the configuration document")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "dev", "Environment id to operate on")
	rootCmd.PersistentFlags().StringVar(&collection, "collection", "default", "Collection id")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// loadSnapshot reads and compiles the configuration document for the
// selected environment.
func loadSnapshot() (*snapshot.Snapshot, error) {
	data, err := store.NewFileStore(file).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	doc, err := models.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return snapshot.Compile(doc, data, environment, collection)
}
