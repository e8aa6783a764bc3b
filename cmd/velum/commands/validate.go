package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration document",
	Long: `Validate a configuration document: parse it and compile every environment
it contains. The command fails on the first inconsistency (dangling segment
reference, unknown operator or value type, out-of-range rollout).

Examples:
  velum validate --file appconfig.json
  velum validate --file exported.json --quiet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := store.NewFileStore(file).Load()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		doc, err := models.ParseDocument(data)
		if err != nil {
			return err
		}
		if len(doc.Environments) == 0 {
			return fmt.Errorf("document contains no environments")
		}

		for i := range doc.Environments {
			envID := doc.Environments[i].EnvironmentID
			snap, err := snapshot.Compile(doc, data, envID, collection)
			if err != nil {
				return fmt.Errorf("environment '%s': %w", envID, err)
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "environment %s: %d features, %d properties\n",
					envID, len(snap.FeatureIDs()), len(snap.PropertyIDs()))
			}
		}

		if !quiet {
			fmt.Fprintln(cmd.OutOrStdout(), "Document is valid")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
