// Package snapshot builds immutable, validated configuration snapshots from
// wire documents and holds the current one behind an atomically swappable
// handle. Evaluation always reads a snapshot as a whole; publishing replaces
// the whole structure and never mutates in place, which is what makes
// concurrent evaluation safe without read locks.
package snapshot

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/velum-io/appconfig-go/internal/models"
)

// TargetingRule is a compiled targeting rule: ordering applied, "$default"
// sentinels resolved, segment references flattened.
type TargetingRule struct {
	Order      int
	SegmentIDs []string
	Value      any
	Rollout    int
}

// Flag is the compiled form shared by features and properties. For
// properties, EnabledValue and DisabledValue both carry the property value,
// Enabled is always true and DefaultRollout is 100, so the default path
// degenerates to "return the value".
type Flag struct {
	ID             string
	Name           string
	Kind           models.ValueKind
	Format         string
	Enabled        bool
	EnabledValue   any
	DisabledValue  any
	DefaultRollout int
	Rules          []TargetingRule
	Property       bool
}

// Snapshot is one internally consistent configuration state for an
// environment/collection pair. It is immutable after Compile; a new snapshot
// entirely replaces the old one.
type Snapshot struct {
	EnvironmentID string
	CollectionID  string
	Fingerprint   uint64

	features   map[string]*Flag
	properties map[string]*Flag
	segments   map[string]*models.Segment
}

// Compile validates a parsed document and builds a snapshot for the given
// environment. Raw is the document's wire bytes; its hash lets callers skip
// republishing identical configurations. Any inconsistency (missing
// environment, dangling segment reference, unknown operator, out-of-range
// rollout) fails compilation with ConfigurationError.
func Compile(doc *models.ConfigurationDocument, raw []byte, environmentID, collectionID string) (*Snapshot, error) {
	env, ok := doc.Environment(environmentID)
	if !ok {
		return nil, &models.ConfigurationError{
			Reason: fmt.Sprintf("environment %q not present in document", environmentID),
		}
	}

	s := &Snapshot{
		EnvironmentID: environmentID,
		CollectionID:  collectionID,
		Fingerprint:   xxhash.Sum64(raw),
		features:      make(map[string]*Flag, len(env.Features)),
		properties:    make(map[string]*Flag, len(env.Properties)),
		segments:      make(map[string]*models.Segment, len(doc.Segments)),
	}

	for i := range doc.Segments {
		seg := &doc.Segments[i]
		if seg.SegmentID == "" {
			return nil, &models.ConfigurationError{Reason: "segment without segment_id"}
		}
		if _, dup := s.segments[seg.SegmentID]; dup {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("duplicate segment id %q", seg.SegmentID),
			}
		}
		if err := validateSegment(seg); err != nil {
			return nil, err
		}
		s.segments[seg.SegmentID] = seg
	}

	for i := range env.Features {
		f := &env.Features[i]
		if f.FeatureID == "" {
			return nil, &models.ConfigurationError{Reason: "feature without feature_id"}
		}
		if _, dup := s.features[f.FeatureID]; dup {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("duplicate feature id %q", f.FeatureID),
			}
		}
		if !f.Kind.Valid() {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("feature %q has unknown type %q", f.FeatureID, f.Kind),
			}
		}

		defaultRollout := 100
		if f.RolloutPercentage != nil {
			defaultRollout = *f.RolloutPercentage
		}
		if defaultRollout < 0 || defaultRollout > 100 {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("feature %q rollout_percentage %d out of range", f.FeatureID, defaultRollout),
			}
		}

		rules, err := s.compileRules(f.FeatureID, f.SegmentRules, f.EnabledValue, defaultRollout)
		if err != nil {
			return nil, err
		}

		s.features[f.FeatureID] = &Flag{
			ID:             f.FeatureID,
			Name:           f.Name,
			Kind:           f.Kind,
			Format:         f.Format,
			Enabled:        f.Enabled,
			EnabledValue:   f.EnabledValue,
			DisabledValue:  f.DisabledValue,
			DefaultRollout: defaultRollout,
			Rules:          rules,
		}
	}

	for i := range env.Properties {
		p := &env.Properties[i]
		if p.PropertyID == "" {
			return nil, &models.ConfigurationError{Reason: "property without property_id"}
		}
		if _, dup := s.properties[p.PropertyID]; dup {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("duplicate property id %q", p.PropertyID),
			}
		}
		if !p.Kind.Valid() {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("property %q has unknown type %q", p.PropertyID, p.Kind),
			}
		}

		rules, err := s.compileRules(p.PropertyID, p.SegmentRules, p.Value, 100)
		if err != nil {
			return nil, err
		}

		s.properties[p.PropertyID] = &Flag{
			ID:             p.PropertyID,
			Name:           p.Name,
			Kind:           p.Kind,
			Format:         p.Format,
			Enabled:        true,
			EnabledValue:   p.Value,
			DisabledValue:  p.Value,
			DefaultRollout: 100,
			Rules:          rules,
			Property:       true,
		}
	}

	return s, nil
}

func (s *Snapshot) compileRules(flagID string, raw []models.TargetingRule, fallbackValue any, fallbackRollout int) ([]TargetingRule, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	rules := make([]TargetingRule, 0, len(raw))
	for _, r := range raw {
		pct, err := r.ResolveRollout(fallbackRollout)
		if err != nil {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("flag %q targeting rule %d", flagID, r.Order),
				Err:    err,
			}
		}
		if pct < 0 || pct > 100 {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("flag %q targeting rule %d rollout %d out of range", flagID, r.Order, pct),
			}
		}

		var segmentIDs []string
		for _, ref := range r.Rules {
			for _, id := range ref.Segments {
				if _, ok := s.segments[id]; !ok {
					return nil, &models.ConfigurationError{
						Reason: fmt.Sprintf("flag %q references unknown segment %q", flagID, id),
					}
				}
				segmentIDs = append(segmentIDs, id)
			}
		}
		if len(segmentIDs) == 0 {
			return nil, &models.ConfigurationError{
				Reason: fmt.Sprintf("flag %q targeting rule %d references no segments", flagID, r.Order),
			}
		}

		rules = append(rules, TargetingRule{
			Order:      r.Order,
			SegmentIDs: segmentIDs,
			Value:      r.ResolveValue(fallbackValue),
			Rollout:    pct,
		})
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })
	return rules, nil
}

func validateSegment(seg *models.Segment) error {
	if len(seg.Rules) == 0 {
		return &models.ConfigurationError{
			Reason: fmt.Sprintf("segment %q has no rules", seg.SegmentID),
		}
	}
	for _, rule := range seg.Rules {
		if len(rule.Conditions) == 0 {
			return &models.ConfigurationError{
				Reason: fmt.Sprintf("segment %q has a rule with no conditions", seg.SegmentID),
			}
		}
		for _, cond := range rule.Conditions {
			if cond.AttributeName == "" {
				return &models.ConfigurationError{
					Reason: fmt.Sprintf("segment %q condition without attribute_name", seg.SegmentID),
				}
			}
			if !cond.Operator.Valid() {
				return &models.ConfigurationError{
					Reason: fmt.Sprintf("segment %q uses unknown operator %q", seg.SegmentID, cond.Operator),
				}
			}
			if len(cond.Values) == 0 {
				return &models.ConfigurationError{
					Reason: fmt.Sprintf("segment %q condition on %q has no values", seg.SegmentID, cond.AttributeName),
				}
			}
		}
	}
	return nil
}

// Feature returns the compiled feature with the given id.
func (s *Snapshot) Feature(id string) (*Flag, bool) {
	f, ok := s.features[id]
	return f, ok
}

// Property returns the compiled property with the given id.
func (s *Snapshot) Property(id string) (*Flag, bool) {
	p, ok := s.properties[id]
	return p, ok
}

// Segment returns the segment definition with the given id.
func (s *Snapshot) Segment(id string) (*models.Segment, bool) {
	seg, ok := s.segments[id]
	return seg, ok
}

// FeatureIDs returns all feature ids in the snapshot, sorted.
func (s *Snapshot) FeatureIDs() []string {
	return sortedKeys(s.features)
}

// PropertyIDs returns all property ids in the snapshot, sorted.
func (s *Snapshot) PropertyIDs() []string {
	return sortedKeys(s.properties)
}

func sortedKeys(m map[string]*Flag) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
