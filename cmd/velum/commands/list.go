package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velum-io/appconfig-go/internal/cli"
)

var listEnabledOnly bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List features and properties",
	Long: `List all features and properties in the selected environment.

Examples:
  velum list --environment dev
  velum list --format json
  velum list --enabled-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot()
		if err != nil {
			return err
		}
		if quiet {
			return nil
		}
		out := cmd.OutOrStdout()

		var features []cli.FeatureRow
		for _, id := range snap.FeatureIDs() {
			f, _ := snap.Feature(id)
			if listEnabledOnly && !f.Enabled {
				continue
			}
			features = append(features, cli.NewFeatureRow(f))
		}

		// Properties have no toggle; --enabled-only is about features.
		var properties []cli.PropertyRow
		if !listEnabledOnly {
			for _, id := range snap.PropertyIDs() {
				p, _ := snap.Property(id)
				properties = append(properties, cli.NewPropertyRow(p))
			}
		}

		if len(features) == 0 && len(properties) == 0 {
			fmt.Fprintln(out, "No features or properties found")
			return nil
		}
		if len(features) > 0 {
			if err := cli.PrintFeatures(out, features, cli.OutputFormat(format)); err != nil {
				return err
			}
		}
		if len(properties) > 0 {
			return cli.PrintProperties(out, properties, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listEnabledOnly, "enabled-only", false, "Show only enabled features")
}
