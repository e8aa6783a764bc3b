package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/velum-io/appconfig-go/internal/engine"
	"github.com/velum-io/appconfig-go/internal/snapshot"
)

func sampleFeatureRows() []FeatureRow {
	return []FeatureRow{
		{FeatureID: "dark-mode", Name: "Dark mode", Kind: "BOOLEAN", Enabled: true, Rollout: 50, Rules: 1},
		{FeatureID: "new-checkout", Name: "New checkout", Kind: "STRING", Enabled: false, Rollout: 100, Rules: 0},
	}
}

func TestPrintFeaturesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintFeatures(&buf, sampleFeatureRows(), FormatJSON); err != nil {
		t.Fatalf("PrintFeatures: %v", err)
	}

	var decoded map[string][]FeatureRow
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	rows, ok := decoded["features"]
	if !ok {
		t.Fatal(`JSON output is not wrapped in a "features" key`)
	}
	if len(rows) != 2 || rows[0].FeatureID != "dark-mode" {
		t.Fatalf("decoded rows = %+v", rows)
	}
}

func TestPrintFeaturesTable(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintFeatures(&buf, sampleFeatureRows(), FormatTable); err != nil {
		t.Fatalf("PrintFeatures: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"dark-mode", "new-checkout", "50%", "BOOLEAN"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output is missing %q:\n%s", want, out)
		}
	}
}

func TestPrintPropertiesYAML(t *testing.T) {
	rows := []PropertyRow{
		{PropertyID: "request-limit", Name: "Request limit", Kind: "NUMERIC", Value: 10, Rules: 1},
	}

	var buf bytes.Buffer
	if err := PrintProperties(&buf, rows, FormatYAML); err != nil {
		t.Fatalf("PrintProperties: %v", err)
	}

	var decoded []PropertyRow
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(decoded) != 1 || decoded[0].PropertyID != "request-limit" {
		t.Fatalf("decoded rows = %+v", decoded)
	}
}

func TestPrintEvaluation(t *testing.T) {
	row := NewEvaluationRow("feature", "dark-mode", "alice", engine.Result{
		Value:     true,
		SegmentID: "beta-users",
		Enabled:   true,
	})

	var buf bytes.Buffer
	if err := PrintEvaluation(&buf, row, FormatJSON); err != nil {
		t.Fatalf("PrintEvaluation: %v", err)
	}
	var decoded EvaluationRow
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.SegmentID != "beta-users" || decoded.EntityID != "alice" {
		t.Fatalf("decoded row = %+v", decoded)
	}

	buf.Reset()
	if err := PrintEvaluation(&buf, row, FormatTable); err != nil {
		t.Fatalf("PrintEvaluation table: %v", err)
	}
	if !strings.Contains(buf.String(), "beta-users") {
		t.Errorf("table output is missing the segment:\n%s", buf.String())
	}
}

func TestPrintUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintFeatures(&buf, nil, OutputFormat("csv")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRowProjection(t *testing.T) {
	flag := &snapshot.Flag{
		ID:             "request-limit",
		Name:           "Request limit",
		Kind:           "NUMERIC",
		Enabled:        true,
		EnabledValue:   float64(10),
		DefaultRollout: 100,
		Rules:          make([]snapshot.TargetingRule, 2),
		Property:       true,
	}

	prop := NewPropertyRow(flag)
	if prop.PropertyID != "request-limit" || prop.Rules != 2 {
		t.Fatalf("property row = %+v", prop)
	}
	if prop.Value != float64(10) {
		t.Fatalf("Value = %v, want 10", prop.Value)
	}

	feat := NewFeatureRow(flag)
	if feat.Rollout != 100 || feat.Kind != "NUMERIC" {
		t.Fatalf("feature row = %+v", feat)
	}
}
