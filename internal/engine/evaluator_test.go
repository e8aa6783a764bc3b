package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
)

// fixtureDoc exercises ordering, sentinel resolution, rollouts and both
// segment composition modes. Rule order is deliberately shuffled in the
// promo-banner JSON to prove compilation sorts by order.
const fixtureDoc = `{
  "environments": [
    {
      "environment_id": "dev",
      "features": [
        {
          "name": "Dark Mode",
          "feature_id": "dark-mode",
          "type": "BOOLEAN",
          "enabled_value": true,
          "disabled_value": false,
          "enabled": true,
          "rollout_percentage": 50,
          "segment_rules": [
            {"rules": [{"segments": ["beta-users"]}], "value": "$default", "order": 1, "rollout_percentage": 100}
          ]
        },
        {
          "name": "Promo Banner",
          "feature_id": "promo-banner",
          "type": "STRING",
          "enabled_value": "standard",
          "disabled_value": "hidden",
          "enabled": true,
          "segment_rules": [
            {"rules": [{"segments": ["big-spenders"]}], "value": "gold", "order": 2, "rollout_percentage": "$default"},
            {"rules": [{"segments": ["beta-users"]}], "value": "beta", "order": 1, "rollout_percentage": 25}
          ]
        },
        {
          "name": "Ranked Search",
          "feature_id": "ranked-search",
          "type": "STRING",
          "enabled_value": "on",
          "disabled_value": "off",
          "enabled": true,
          "segment_rules": [
            {"rules": [{"segments": ["beta-users"]}], "value": "v1", "order": 1, "rollout_percentage": 0},
            {"rules": [{"segments": ["beta-users"]}], "value": "v2", "order": 2, "rollout_percentage": 100}
          ]
        },
        {
          "name": "New Checkout",
          "feature_id": "new-checkout",
          "type": "STRING",
          "enabled_value": "new",
          "disabled_value": "old",
          "enabled": false,
          "segment_rules": [
            {"rules": [{"segments": ["beta-users"]}], "value": "new", "order": 1}
          ]
        }
      ],
      "properties": [
        {
          "name": "Request Limit",
          "property_id": "request-limit",
          "type": "NUMERIC",
          "value": 10,
          "segment_rules": [
            {"rules": [{"segments": ["big-spenders"]}], "value": 100, "order": 1}
          ]
        },
        {
          "name": "Theme",
          "property_id": "theme",
          "type": "STRING",
          "value": "light",
          "segment_rules": []
        }
      ]
    }
  ],
  "segments": [
    {
      "name": "Beta Users",
      "segment_id": "beta-users",
      "rules": [
        {"conditions": [{"attribute_name": "plan", "operator": "is", "values": ["beta", "trial"]}]}
      ]
    },
    {
      "name": "Big Spenders",
      "segment_id": "big-spenders",
      "rules": [
        {"conditions": [
          {"attribute_name": "plan", "operator": "is", "values": ["pro"]},
          {"attribute_name": "spend", "operator": "greaterThanEquals", "values": [1000]}
        ]},
        {"conditions": [{"attribute_name": "lifetime_value", "operator": "greaterThan", "values": [10000]}]}
      ]
    }
  ]
}`

func mustCompile(t *testing.T, raw string) *snapshot.Snapshot {
	t.Helper()
	doc, err := models.ParseDocument([]byte(raw))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	snap, err := snapshot.Compile(doc, []byte(raw), "dev", "default")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return snap
}

func TestMatchesCondition(t *testing.T) {
	tests := []struct {
		name       string
		attributes map[string]any
		condition  models.Condition
		want       bool
	}{
		{
			name:       "is string match",
			attributes: map[string]any{"plan": "beta"},
			condition:  models.Condition{AttributeName: "plan", Operator: models.OpIs, Values: []any{"beta"}},
			want:       true,
		},
		{
			name:       "is any of values",
			attributes: map[string]any{"plan": "trial"},
			condition:  models.Condition{AttributeName: "plan", Operator: models.OpIs, Values: []any{"beta", "trial"}},
			want:       true,
		},
		{
			name:       "is number cross type",
			attributes: map[string]any{"age": 42},
			condition:  models.Condition{AttributeName: "age", Operator: models.OpIs, Values: []any{42.0}},
			want:       true,
		},
		{
			name:       "is numeric string against number",
			attributes: map[string]any{"age": "42"},
			condition:  models.Condition{AttributeName: "age", Operator: models.OpIs, Values: []any{42.0}},
			want:       true,
		},
		{
			name:       "is bool against string operand",
			attributes: map[string]any{"verified": true},
			condition:  models.Condition{AttributeName: "verified", Operator: models.OpIs, Values: []any{"true"}},
			want:       true,
		},
		{
			name:       "is missing attribute",
			attributes: map[string]any{"plan": "beta"},
			condition:  models.Condition{AttributeName: "tier", Operator: models.OpIs, Values: []any{"beta"}},
			want:       false,
		},
		{
			name:       "isNot no operand matches",
			attributes: map[string]any{"plan": "free"},
			condition:  models.Condition{AttributeName: "plan", Operator: models.OpIsNot, Values: []any{"beta", "trial"}},
			want:       true,
		},
		{
			name:       "isNot one operand matches",
			attributes: map[string]any{"plan": "trial"},
			condition:  models.Condition{AttributeName: "plan", Operator: models.OpIsNot, Values: []any{"beta", "trial"}},
			want:       false,
		},
		{
			name:       "isNot missing attribute never matches",
			attributes: map[string]any{},
			condition:  models.Condition{AttributeName: "plan", Operator: models.OpIsNot, Values: []any{"beta"}},
			want:       false,
		},
		{
			name:       "contains",
			attributes: map[string]any{"email": "dev@example.com"},
			condition:  models.Condition{AttributeName: "email", Operator: models.OpContains, Values: []any{"@example."}},
			want:       true,
		},
		{
			name:       "contains non-string attribute",
			attributes: map[string]any{"email": 123},
			condition:  models.Condition{AttributeName: "email", Operator: models.OpContains, Values: []any{"1"}},
			want:       false,
		},
		{
			name:       "notContains",
			attributes: map[string]any{"email": "dev@example.com"},
			condition:  models.Condition{AttributeName: "email", Operator: models.OpNotContains, Values: []any{"@corp."}},
			want:       true,
		},
		{
			name:       "startsWith",
			attributes: map[string]any{"region": "eu-gb"},
			condition:  models.Condition{AttributeName: "region", Operator: models.OpStartsWith, Values: []any{"eu-"}},
			want:       true,
		},
		{
			name:       "endsWith",
			attributes: map[string]any{"email": "dev@example.com"},
			condition:  models.Condition{AttributeName: "email", Operator: models.OpEndsWith, Values: []any{".com"}},
			want:       true,
		},
		{
			name:       "in with list operand",
			attributes: map[string]any{"country": "DE"},
			condition:  models.Condition{AttributeName: "country", Operator: models.OpIn, Values: []any{[]any{"DE", "FR"}}},
			want:       true,
		},
		{
			name:       "notIn with list operand",
			attributes: map[string]any{"country": "US"},
			condition:  models.Condition{AttributeName: "country", Operator: models.OpNotIn, Values: []any{[]any{"DE", "FR"}}},
			want:       true,
		},
		{
			name:       "in with scalar operands",
			attributes: map[string]any{"country": "FR"},
			condition:  models.Condition{AttributeName: "country", Operator: models.OpIn, Values: []any{"DE", "FR"}},
			want:       true,
		},
		{
			name:       "greaterThan numeric",
			attributes: map[string]any{"spend": 1500},
			condition:  models.Condition{AttributeName: "spend", Operator: models.OpGreaterThan, Values: []any{1000.0}},
			want:       true,
		},
		{
			name:       "greaterThan numeric strings compare numerically",
			attributes: map[string]any{"spend": "10"},
			condition:  models.Condition{AttributeName: "spend", Operator: models.OpGreaterThan, Values: []any{"9"}},
			want:       true,
		},
		{
			name:       "greaterThan lexicographic fallback",
			attributes: map[string]any{"tier": "gold"},
			condition:  models.Condition{AttributeName: "tier", Operator: models.OpGreaterThan, Values: []any{"bronze"}},
			want:       true,
		},
		{
			name:       "greaterThan mixed types",
			attributes: map[string]any{"tier": "gold"},
			condition:  models.Condition{AttributeName: "tier", Operator: models.OpGreaterThan, Values: []any{5.0}},
			want:       false,
		},
		{
			name:       "greaterThanEquals boundary",
			attributes: map[string]any{"spend": 1000},
			condition:  models.Condition{AttributeName: "spend", Operator: models.OpGreaterThanEquals, Values: []any{1000.0}},
			want:       true,
		},
		{
			name:       "lesserThan",
			attributes: map[string]any{"age": 17},
			condition:  models.Condition{AttributeName: "age", Operator: models.OpLesserThan, Values: []any{18.0}},
			want:       true,
		},
		{
			name:       "lesserThanEquals boundary",
			attributes: map[string]any{"age": 18},
			condition:  models.Condition{AttributeName: "age", Operator: models.OpLesserThanEquals, Values: []any{18.0}},
			want:       true,
		},
		{
			name:       "unknown operator",
			attributes: map[string]any{"plan": "beta"},
			condition:  models.Condition{AttributeName: "plan", Operator: models.Operator("matches"), Values: []any{"beta"}},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := models.Entity{ID: "u1", Attributes: tt.attributes}
			if got := matchesCondition(e, tt.condition); got != tt.want {
				t.Fatalf("matchesCondition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBelongsToSegment(t *testing.T) {
	seg := &models.Segment{
		SegmentID: "big-spenders",
		Rules: []models.SegmentRule{
			{Conditions: []models.Condition{
				{AttributeName: "plan", Operator: models.OpIs, Values: []any{"pro"}},
				{AttributeName: "spend", Operator: models.OpGreaterThanEquals, Values: []any{1000.0}},
			}},
			{Conditions: []models.Condition{
				{AttributeName: "lifetime_value", Operator: models.OpGreaterThan, Values: []any{10000.0}},
			}},
		},
	}

	tests := []struct {
		name       string
		attributes map[string]any
		want       bool
	}{
		{name: "first rule all conditions", attributes: map[string]any{"plan": "pro", "spend": 1500}, want: true},
		{name: "first rule partial only", attributes: map[string]any{"plan": "pro", "spend": 10}, want: false},
		{name: "second rule rescues", attributes: map[string]any{"plan": "free", "lifetime_value": 20000}, want: true},
		{name: "no rule matches", attributes: map[string]any{"plan": "free"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := models.Entity{ID: "u1", Attributes: tt.attributes}
			if got := BelongsToSegment(e, seg); got != tt.want {
				t.Fatalf("BelongsToSegment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateFeature_TargetingAndOrdering(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	// alice buckets at 13 for promo-banner, inside the order-1 rule's 25%.
	// She belongs to both segments, so getting "beta" proves order decides.
	alice := models.Entity{ID: "alice", Attributes: map[string]any{"plan": "beta", "lifetime_value": 20000}}
	got, err := EvaluateFeature(snap, "promo-banner", alice)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want := Result{Value: "beta", SegmentID: "beta-users", Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("alice = %#v, want %#v", got, want)
	}

	again, err := EvaluateFeature(snap, "promo-banner", alice)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("evaluation should be deterministic, got %#v then %#v", got, again)
	}

	// bob buckets at 75, outside the 25% rule. He is in no other segment, so
	// the bucket miss falls through to the default path.
	bob := models.Entity{ID: "bob", Attributes: map[string]any{"plan": "beta"}}
	got, err = EvaluateFeature(snap, "promo-banner", bob)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want = Result{Value: "standard", UsedDefault: true, Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("bob = %#v, want %#v", got, want)
	}

	// carol is only a big spender, so the order-2 rule decides.
	carol := models.Entity{ID: "carol", Attributes: map[string]any{"plan": "pro", "spend": 1500}}
	got, err = EvaluateFeature(snap, "promo-banner", carol)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want = Result{Value: "gold", SegmentID: "big-spenders", Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("carol = %#v, want %#v", got, want)
	}
}

func TestEvaluateFeature_RuleBucketMissFallsThrough(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	// The order-1 rule matches the segment but rolls out to 0%, so every
	// entity falls through to the order-2 rule at 100%.
	e := models.Entity{ID: "anyone", Attributes: map[string]any{"plan": "beta"}}
	got, err := EvaluateFeature(snap, "ranked-search", e)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	if got.Value != "v2" || got.UsedDefault {
		t.Fatalf("got %#v, want rule value v2", got)
	}
}

func TestEvaluateFeature_Disabled(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	// new-checkout is switched off; targeting is not consulted even though
	// the entity matches the rule's segment.
	e := models.Entity{ID: "u1", Attributes: map[string]any{"plan": "beta"}}
	got, err := EvaluateFeature(snap, "new-checkout", e)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want := Result{Value: "old", UsedDefault: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestEvaluateFeature_DefaultRolloutPartition(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	// Entities without attributes skip targeting; dark-mode's 50% flag-level
	// rollout decides. u1 buckets at 14, u2 at 80.
	got, err := EvaluateFeature(snap, "dark-mode", models.Entity{ID: "u1"})
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want := Result{Value: true, UsedDefault: true, Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("u1 = %#v, want %#v", got, want)
	}

	got, err = EvaluateFeature(snap, "dark-mode", models.Entity{ID: "u2"})
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want = Result{Value: false, UsedDefault: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("u2 = %#v, want %#v", got, want)
	}
}

func TestEvaluateFeature_SentinelValueResolvesToEnabledValue(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	// dark-mode's rule carries "$default", which compiles to the enabled
	// value, and a 100% rule rollout overrides the flag-level 50%.
	e := models.Entity{ID: "u2", Attributes: map[string]any{"plan": "beta"}}
	got, err := EvaluateFeature(snap, "dark-mode", e)
	if err != nil {
		t.Fatalf("EvaluateFeature: %v", err)
	}
	want := Result{Value: true, SegmentID: "beta-users", Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestEvaluateFeature_Errors(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	_, err := EvaluateFeature(snap, "no-such-flag", models.Entity{ID: "u1"})
	var nf models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if nf.Kind != "feature" || nf.ID != "no-such-flag" {
		t.Fatalf("NotFoundError = %#v", nf)
	}

	_, err = EvaluateFeature(snap, "dark-mode", models.Entity{})
	var ve models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestEvaluateProperty(t *testing.T) {
	snap := mustCompile(t, fixtureDoc)

	spender := models.Entity{ID: "carol", Attributes: map[string]any{"plan": "pro", "spend": 1500}}
	got, err := EvaluateProperty(snap, "request-limit", spender)
	if err != nil {
		t.Fatalf("EvaluateProperty: %v", err)
	}
	want := Result{Value: 100.0, SegmentID: "big-spenders", Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("spender = %#v, want %#v", got, want)
	}

	plain := models.Entity{ID: "u1", Attributes: map[string]any{"plan": "free"}}
	got, err = EvaluateProperty(snap, "request-limit", plain)
	if err != nil {
		t.Fatalf("EvaluateProperty: %v", err)
	}
	want = Result{Value: 10.0, UsedDefault: true, Enabled: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plain = %#v, want %#v", got, want)
	}

	got, err = EvaluateProperty(snap, "theme", models.Entity{ID: "u1"})
	if err != nil {
		t.Fatalf("EvaluateProperty: %v", err)
	}
	if got.Value != "light" || !got.UsedDefault || !got.Enabled {
		t.Fatalf("theme = %#v", got)
	}

	_, err = EvaluateProperty(snap, "missing", models.Entity{ID: "u1"})
	var nf models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if nf.Kind != "property" {
		t.Fatalf("NotFoundError.Kind = %q, want property", nf.Kind)
	}
}
