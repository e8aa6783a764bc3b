package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velum-io/appconfig-go/internal/cli"
	"github.com/velum-io/appconfig-go/internal/engine"
	"github.com/velum-io/appconfig-go/internal/models"
)

var (
	evaluateEntityID string
	evaluateAttrs    []string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <id>",
	Short: "Evaluate a feature or property for an entity",
	Long: `Evaluate a feature flag or configuration property for a test entity.

Attribute values are interpreted as booleans or numbers when they parse as
such, strings otherwise.

Examples:
  velum evaluate dark-mode --entity-id u1
  velum evaluate dark-mode --entity-id u2 --attr plan=beta
  velum evaluate request-limit --entity-id carol --attr spend=1500 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		if evaluateEntityID == "" {
			return fmt.Errorf("--entity-id is required")
		}
		attrs, err := parseAttributes(evaluateAttrs)
		if err != nil {
			return err
		}

		snap, err := loadSnapshot()
		if err != nil {
			return err
		}
		entity := models.Entity{ID: evaluateEntityID, Attributes: attrs}

		// Try the id as a feature first, then as a property.
		kind := "feature"
		res, err := engine.EvaluateFeature(snap, id, entity)
		var nf models.NotFoundError
		if errors.As(err, &nf) {
			kind = "property"
			res, err = engine.EvaluateProperty(snap, id, entity)
		}
		if err != nil {
			return err
		}

		if quiet {
			return nil
		}
		return cli.PrintEvaluation(cmd.OutOrStdout(), cli.NewEvaluationRow(kind, id, evaluateEntityID, res), cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateEntityID, "entity-id", "", "Entity id to evaluate for")
	evaluateCmd.Flags().StringArrayVar(&evaluateAttrs, "attr", nil, "Entity attribute as key=value (repeatable)")
}

// parseAttributes converts key=value pairs into entity attributes.
func parseAttributes(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute '%s', want key=value", pair)
		}
		switch {
		case raw == "true" || raw == "false":
			attrs[key] = raw == "true"
		default:
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				attrs[key] = n
			} else {
				attrs[key] = raw
			}
		}
	}
	return attrs, nil
}
