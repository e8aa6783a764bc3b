// Package engine resolves features and properties against one immutable
// snapshot: segment membership, ordered targeting rules and deterministic
// percentage rollout. Evaluation never blocks and never touches the network.
package engine

import (
	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/rollout"
	"github.com/velum-io/appconfig-go/internal/snapshot"
)

// EvaluateFeature resolves the feature with the given id for an entity.
func EvaluateFeature(s *snapshot.Snapshot, id string, e models.Entity) (Result, error) {
	f, ok := s.Feature(id)
	if !ok {
		return Result{}, models.NotFoundError{Kind: "feature", ID: id}
	}
	return evaluate(s, f, e)
}

// EvaluateProperty resolves the property with the given id for an entity.
func EvaluateProperty(s *snapshot.Snapshot, id string, e models.Entity) (Result, error) {
	p, ok := s.Property(id)
	if !ok {
		return Result{}, models.NotFoundError{Kind: "property", ID: id}
	}
	return evaluate(s, p, e)
}

// evaluate walks the compiled targeting rules in order and returns the first
// rule whose segments the entity belongs to and whose rollout bucket includes
// the entity. A rule whose bucket excludes the entity does not end the walk;
// later rules still get their chance. When no rule decides, features apply
// the flag-level rollout percentage and properties return their value.
func evaluate(s *snapshot.Snapshot, f *snapshot.Flag, e models.Entity) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}

	if !f.Enabled {
		return Result{Value: f.DisabledValue, UsedDefault: true}, nil
	}

	// Entities without attributes cannot belong to any segment.
	if len(e.Attributes) > 0 {
		for _, rule := range f.Rules {
			segmentID, err := matchedSegment(s, f.ID, rule, e)
			if err != nil {
				return Result{}, err
			}
			if segmentID == "" {
				continue
			}
			if !rollout.Include(e.ID, f.ID, rule.Rollout) {
				continue
			}
			return Result{Value: rule.Value, SegmentID: segmentID, Enabled: true}, nil
		}
	}

	if rollout.Include(e.ID, f.ID, f.DefaultRollout) {
		return Result{Value: f.EnabledValue, UsedDefault: true, Enabled: true}, nil
	}
	return Result{Value: f.DisabledValue, UsedDefault: true}, nil
}

// matchedSegment returns the id of the first segment referenced by the rule
// that the entity belongs to, in reference order, or "" when none match.
func matchedSegment(s *snapshot.Snapshot, flagID string, rule snapshot.TargetingRule, e models.Entity) (string, error) {
	for _, segmentID := range rule.SegmentIDs {
		seg, ok := s.Segment(segmentID)
		if !ok {
			return "", models.EvaluationError{ID: flagID, SegmentID: segmentID}
		}
		if BelongsToSegment(e, seg) {
			return segmentID, nil
		}
	}
	return "", nil
}

// BelongsToSegment reports whether the entity is a member of the segment:
// membership holds when any single rule has all of its conditions satisfied.
func BelongsToSegment(e models.Entity, seg *models.Segment) bool {
	for _, rule := range seg.Rules {
		if matchesRule(e, rule) {
			return true
		}
	}
	return false
}

func matchesRule(e models.Entity, rule models.SegmentRule) bool {
	for _, c := range rule.Conditions {
		if !matchesCondition(e, c) {
			return false
		}
	}
	return true
}
