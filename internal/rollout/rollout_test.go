package rollout

import (
	"fmt"
	"testing"
)

// Shared cross-SDK vectors: every SDK implementation must produce these exact
// buckets for these inputs.
func TestBucket_KnownVectors(t *testing.T) {
	tests := []struct {
		entityID string
		flagID   string
		want     uint32
	}{
		{"entityId", "featureId", 41},
		{"a1", "f1", 68},
		{"a2", "f1", 29},
		{"user123", "rule-a", 21},
		{"alice", "promo-banner", 13},
		{"bob", "promo-banner", 75},
		{"u1", "dark-mode", 14},
		{"u2", "dark-mode", 80},
	}
	for _, tt := range tests {
		t.Run(tt.entityID+":"+tt.flagID, func(t *testing.T) {
			if got := Bucket(tt.entityID, tt.flagID); got != tt.want {
				t.Errorf("Bucket(%q, %q) = %d, want %d", tt.entityID, tt.flagID, got, tt.want)
			}
		})
	}
}

func TestBucket_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		if a, b := Bucket("user-123", "feature-x"), Bucket("user-123", "feature-x"); a != b {
			t.Fatalf("Bucket is not deterministic: got %d and %d", a, b)
		}
	}
}

func TestBucket_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		b := Bucket(fmt.Sprintf("entity-%d", i), "feature-x")
		if b > 100 {
			t.Fatalf("Bucket(entity-%d) = %d, out of range", i, b)
		}
	}
}

func TestInclude_FastPaths(t *testing.T) {
	if !Include("anyone", "any-flag", 100) {
		t.Error("Include(pct=100) = false, want true")
	}
	if Include("anyone", "any-flag", 0) {
		t.Error("Include(pct=0) = true, want false")
	}
}

func TestInclude_BoundaryIsExclusive(t *testing.T) {
	// "user-1:new-checkout" buckets to exactly 30; a 30% rollout must
	// exclude it (inclusion is bucket < percentage, not <=).
	if got := Bucket("user-1", "new-checkout"); got != 30 {
		t.Fatalf("Bucket(user-1, new-checkout) = %d, want 30", got)
	}
	if Include("user-1", "new-checkout", 30) {
		t.Error("Include(bucket=30, pct=30) = true, want false")
	}
	if !Include("user-1", "new-checkout", 31) {
		t.Error("Include(bucket=30, pct=31) = false, want true")
	}
}

// A 30% rollout over a large entity population converges close to 30%. The
// expected fraction for this exact corpus is 0.29838.
func TestInclude_Distribution(t *testing.T) {
	const (
		samples   = 100_000
		pct       = 30
		tolerance = 0.01
	)
	hits := 0
	for i := 0; i < samples; i++ {
		if Include(fmt.Sprintf("entity-%d", i), "rollout-test", pct) {
			hits++
		}
	}
	fraction := float64(hits) / float64(samples)
	if fraction < 0.30-tolerance || fraction > 0.30+tolerance {
		t.Errorf("rollout fraction = %.5f, want 0.30 +/- %.2f", fraction, tolerance)
	}
}
