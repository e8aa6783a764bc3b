// Package cli renders features, properties and evaluation results for the
// velum command line tool.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/velum-io/appconfig-go/internal/engine"
	"github.com/velum-io/appconfig-go/internal/snapshot"
)

// OutputFormat specifies the output format for CLI commands.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// FeatureRow is the CLI projection of a compiled feature.
type FeatureRow struct {
	FeatureID string `json:"feature_id" yaml:"feature_id"`
	Name      string `json:"name" yaml:"name"`
	Kind      string `json:"type" yaml:"type"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Rollout   int    `json:"rollout_percentage" yaml:"rollout_percentage"`
	Rules     int    `json:"targeting_rules" yaml:"targeting_rules"`
}

// PropertyRow is the CLI projection of a compiled property.
type PropertyRow struct {
	PropertyID string `json:"property_id" yaml:"property_id"`
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"type" yaml:"type"`
	Value      any    `json:"value" yaml:"value"`
	Rules      int    `json:"targeting_rules" yaml:"targeting_rules"`
}

// EvaluationRow is the CLI projection of one evaluation result.
type EvaluationRow struct {
	ID          string `json:"id" yaml:"id"`
	Kind        string `json:"kind" yaml:"kind"`
	EntityID    string `json:"entity_id" yaml:"entity_id"`
	Value       any    `json:"value" yaml:"value"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	SegmentID   string `json:"segment_id,omitempty" yaml:"segment_id,omitempty"`
	UsedDefault bool   `json:"used_default" yaml:"used_default"`
}

// NewFeatureRow projects a compiled feature.
func NewFeatureRow(f *snapshot.Flag) FeatureRow {
	return FeatureRow{
		FeatureID: f.ID,
		Name:      f.Name,
		Kind:      string(f.Kind),
		Enabled:   f.Enabled,
		Rollout:   f.DefaultRollout,
		Rules:     len(f.Rules),
	}
}

// NewPropertyRow projects a compiled property.
func NewPropertyRow(f *snapshot.Flag) PropertyRow {
	return PropertyRow{
		PropertyID: f.ID,
		Name:       f.Name,
		Kind:       string(f.Kind),
		Value:      f.EnabledValue,
		Rules:      len(f.Rules),
	}
}

// NewEvaluationRow projects an evaluation result. Kind is "feature" or
// "property".
func NewEvaluationRow(kind, id, entityID string, res engine.Result) EvaluationRow {
	return EvaluationRow{
		ID:          id,
		Kind:        kind,
		EntityID:    entityID,
		Value:       res.Value,
		Enabled:     res.Enabled,
		SegmentID:   res.SegmentID,
		UsedDefault: res.UsedDefault,
	}
}

// PrintFeatures outputs feature rows in the specified format.
func PrintFeatures(w io.Writer, rows []FeatureRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]FeatureRow{"features": rows})
	case FormatYAML:
		return printYAML(w, rows)
	case FormatTable:
		return printFeatureTable(w, rows)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintProperties outputs property rows in the specified format.
func PrintProperties(w io.Writer, rows []PropertyRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]PropertyRow{"properties": rows})
	case FormatYAML:
		return printYAML(w, rows)
	case FormatTable:
		return printPropertyTable(w, rows)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintEvaluation outputs a single evaluation result in the specified format.
func PrintEvaluation(w io.Writer, row EvaluationRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, row)
	case FormatYAML:
		return printYAML(w, row)
	case FormatTable:
		return printEvaluationTable(w, row)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printFeatureTable(w io.Writer, rows []FeatureRow) error {
	table := tablewriter.NewWriter(w)
	table.Header("Feature ID", "Name", "Type", "Enabled", "Rollout", "Rules")

	for _, row := range rows {
		table.Append(
			row.FeatureID,
			row.Name,
			row.Kind,
			fmt.Sprintf("%t", row.Enabled),
			fmt.Sprintf("%d%%", row.Rollout),
			fmt.Sprintf("%d", row.Rules),
		)
	}
	return table.Render()
}

func printPropertyTable(w io.Writer, rows []PropertyRow) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property ID", "Name", "Type", "Value", "Rules")

	for _, row := range rows {
		table.Append(
			row.PropertyID,
			row.Name,
			row.Kind,
			cell(row.Value),
			fmt.Sprintf("%d", row.Rules),
		)
	}
	return table.Render()
}

func printEvaluationTable(w io.Writer, row EvaluationRow) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Kind", "Entity", "Value", "Segment", "Default Path")

	segment := row.SegmentID
	if segment == "" {
		segment = "-"
	}
	table.Append(
		row.ID,
		row.Kind,
		row.EntityID,
		cell(row.Value),
		segment,
		fmt.Sprintf("%t", row.UsedDefault),
	)
	return table.Render()
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
