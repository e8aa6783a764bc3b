// Package testutil provides configuration document fixtures shared by tests
// across the module.
package testutil

import (
	"testing"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
)

const sampleDocument = `{
  "environments": [
    {
      "environment_id": "dev",
      "features": [
        {
          "name": "Dark mode",
          "feature_id": "dark-mode",
          "type": "BOOLEAN",
          "enabled_value": true,
          "disabled_value": false,
          "enabled": true,
          "rollout_percentage": 50,
          "segment_rules": [
            {
              "rules": [{"segments": ["beta-users"]}],
              "value": "$default",
              "order": 1,
              "rollout_percentage": 100
            }
          ]
        },
        {
          "name": "New checkout",
          "feature_id": "new-checkout",
          "type": "STRING",
          "enabled_value": "fresh",
          "disabled_value": "classic",
          "enabled": false,
          "segment_rules": []
        }
      ],
      "properties": [
        {
          "name": "Request limit",
          "property_id": "request-limit",
          "type": "NUMERIC",
          "value": 10,
          "segment_rules": [
            {
              "rules": [{"segments": ["big-spenders"]}],
              "value": 100,
              "order": 1
            }
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
      "name": "Beta users",
      "segment_id": "beta-users",
      "rules": [
        {
          "conditions": [
            {"attribute_name": "plan", "operator": "is", "values": ["beta", "trial"]}
          ]
        }
      ]
    },
    {
      "name": "Big spenders",
      "segment_id": "big-spenders",
      "rules": [
        {
          "conditions": [
            {"attribute_name": "spend", "operator": "greaterThanEquals", "values": [1000]}
          ]
        }
      ]
    }
  ]
}`

// SampleDocument returns a configuration document for environment "dev":
// a half rolled out feature with a segment override, a disabled feature,
// a targeted property and a plain one.
func SampleDocument() []byte {
	return []byte(sampleDocument)
}

// CompileT parses and compiles raw for the given coordinates, failing the
// test on any error.
func CompileT(t *testing.T, raw []byte, environmentID, collectionID string) *snapshot.Snapshot {
	t.Helper()
	doc, err := models.ParseDocument(raw)
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	snap, err := snapshot.Compile(doc, raw, environmentID, collectionID)
	if err != nil {
		t.Fatalf("compile document: %v", err)
	}
	return snap
}

// PublishT compiles raw and publishes it to a fresh store.
func PublishT(t *testing.T, raw []byte, environmentID, collectionID string) *snapshot.Store {
	t.Helper()
	st := snapshot.NewStore()
	st.Publish(CompileT(t, raw, environmentID, collectionID))
	return st
}
