// Package rollout provides deterministic entity bucketing for percentage
// rollouts. Bucket assignment must be bit-for-bit identical across every SDK
// the service ships, so the algorithm is fixed: murmur3 (x86, 32-bit, seed 0)
// over "entityID:flagID", normalized onto 0..100 by scaling against the full
// uint32 range. Changing any part of this breaks cross-SDK consistency.
package rollout

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Bucket returns the deterministic bucket for an entity and flag id.
// The result is in [0, 100]; 100 only occurs for a hash of exactly
// math.MaxUint32.
func Bucket(entityID, flagID string) uint32 {
	h := murmur3.Sum32([]byte(entityID + ":" + flagID))
	return uint32(float64(h) / float64(math.MaxUint32) * 100.0)
}

// Include reports whether the entity falls inside a rollout percentage for
// the flag. A percentage of 100 includes everyone without hashing; 0 includes
// no one.
func Include(entityID, flagID string, percentage int) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	return Bucket(entityID, flagID) < uint32(percentage)
}
