// Package models defines the configuration document shapes exchanged with the
// Velum App Configuration service, the evaluation context, and the SDK error
// taxonomy. The same document shape is used by the live fetch endpoint, offline
// bootstrap files and the persistent cache.
package models

import (
	"encoding/json"
	"fmt"
)

// SentinelDefault marks a targeting-rule value or rollout percentage that
// resolves to the owning feature/property's own value or percentage.
const SentinelDefault = "$default"

// ValueKind is the declared type of a feature or property value.
type ValueKind string

const (
	KindBoolean ValueKind = "BOOLEAN"
	KindString  ValueKind = "STRING"
	KindNumeric ValueKind = "NUMERIC"
)

// Valid reports whether the kind is one the service emits.
func (k ValueKind) Valid() bool {
	switch k {
	case KindBoolean, KindString, KindNumeric:
		return true
	}
	return false
}

// ConfigurationDocument is the root of a configuration fetch response or an
// offline document: per-environment feature/property definitions plus the
// segments they reference.
type ConfigurationDocument struct {
	Environments []Environment `json:"environments"`
	Segments     []Segment     `json:"segments"`
}

// Environment groups the features and properties of one environment.
type Environment struct {
	EnvironmentID string     `json:"environment_id"`
	Features      []Feature  `json:"features"`
	Properties    []Property `json:"properties"`
}

// Feature is a flag definition: a pair of enabled/disabled values, an on/off
// switch, an optional feature-level rollout percentage (defaults to 100 when
// omitted) and ordered targeting rules.
type Feature struct {
	Name              string          `json:"name"`
	FeatureID         string          `json:"feature_id"`
	Kind              ValueKind       `json:"type"`
	Format            string          `json:"format,omitempty"`
	EnabledValue      any             `json:"enabled_value"`
	DisabledValue     any             `json:"disabled_value"`
	Enabled           bool            `json:"enabled"`
	RolloutPercentage *int            `json:"rollout_percentage,omitempty"`
	SegmentRules      []TargetingRule `json:"segment_rules"`
}

// Property is a configuration value with optional targeting overrides.
type Property struct {
	Name         string          `json:"name"`
	PropertyID   string          `json:"property_id"`
	Kind         ValueKind       `json:"type"`
	Format       string          `json:"format,omitempty"`
	Value        any             `json:"value"`
	SegmentRules []TargetingRule `json:"segment_rules"`
}

// TargetingRule applies a value to entities that belong to at least one of the
// referenced segments, gated by a rollout percentage. Value and
// RolloutPercentage may carry the "$default" sentinel; Order is 1-based and
// decides precedence (lowest first).
type TargetingRule struct {
	Rules             []SegmentRef `json:"rules"`
	Value             any          `json:"value"`
	Order             int          `json:"order"`
	RolloutPercentage any          `json:"rollout_percentage,omitempty"`
}

// SegmentRef lists segment ids; an entity qualifies by belonging to any one.
type SegmentRef struct {
	Segments []string `json:"segments"`
}

// Segment names a reusable group of entities. Rules are OR-combined: the
// segment matches when any single rule's conditions all hold.
type Segment struct {
	Name        string        `json:"name"`
	SegmentID   string        `json:"segment_id"`
	Description string        `json:"description,omitempty"`
	Tags        string        `json:"tags,omitempty"`
	Rules       []SegmentRule `json:"rules"`
}

// SegmentRule is one AND-combined condition group inside a segment.
type SegmentRule struct {
	Conditions []Condition `json:"conditions"`
}

// Condition compares one entity attribute against a list of operand values.
// Positive operators match when any operand matches; negated operators match
// only when no operand matches their positive counterpart.
type Condition struct {
	AttributeName string   `json:"attribute_name"`
	Operator      Operator `json:"operator"`
	Values        []any    `json:"values"`
}

// ParseDocument decodes a configuration document. Structural JSON errors are
// reported as ConfigurationError; semantic checks (dangling segments, operator
// validity, rollout ranges) happen when the snapshot is compiled.
func ParseDocument(data []byte) (*ConfigurationDocument, error) {
	var doc ConfigurationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{Reason: "malformed configuration document", Err: err}
	}
	return &doc, nil
}

// Environment returns the environment with the given id.
func (d *ConfigurationDocument) Environment(id string) (*Environment, bool) {
	for i := range d.Environments {
		if d.Environments[i].EnvironmentID == id {
			return &d.Environments[i], true
		}
	}
	return nil, false
}

// ResolveRollout interprets a targeting rule's rollout percentage against the
// owning flag's fallback. Accepts absent (nil), a JSON number, or "$default".
func (r TargetingRule) ResolveRollout(fallback int) (int, error) {
	switch v := r.RolloutPercentage.(type) {
	case nil:
		return fallback, nil
	case string:
		if v == SentinelDefault {
			return fallback, nil
		}
		return 0, fmt.Errorf("rollout_percentage %q is not a number or %q", v, SentinelDefault)
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("rollout_percentage %q: %w", v.String(), err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("rollout_percentage has unsupported type %T", r.RolloutPercentage)
	}
}

// ResolveValue interprets a targeting rule's value against the owning flag's
// fallback value, honoring the "$default" sentinel.
func (r TargetingRule) ResolveValue(fallback any) any {
	if s, ok := r.Value.(string); ok && s == SentinelDefault {
		return fallback
	}
	return r.Value
}
