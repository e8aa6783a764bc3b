package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velum-io/appconfig-go/internal/cli"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a feature or property",
	Long: `Show details of a feature flag or configuration property.

Examples:
  velum get dark-mode --environment dev
  velum get request-limit --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		snap, err := loadSnapshot()
		if err != nil {
			return err
		}

		if f, ok := snap.Feature(id); ok {
			if quiet {
				return nil
			}
			return cli.PrintFeatures(cmd.OutOrStdout(), []cli.FeatureRow{cli.NewFeatureRow(f)}, cli.OutputFormat(format))
		}
		if p, ok := snap.Property(id); ok {
			if quiet {
				return nil
			}
			return cli.PrintProperties(cmd.OutOrStdout(), []cli.PropertyRow{cli.NewPropertyRow(p)}, cli.OutputFormat(format))
		}
		return fmt.Errorf("no feature or property '%s' in environment '%s'", id, environment)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
