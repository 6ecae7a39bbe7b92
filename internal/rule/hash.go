package rule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidefall/reflex/internal/value"
)

// Hash computes the content hash of a rule's authored shape.
//
// Only authored fields participate: engine-assigned metadata (createdAt,
// updatedAt, version) is stripped so that re-registering identical content
// produces an identical hash. The hot-reload watcher diffs on this.
func Hash(r Rule) (string, error) {
	normalized := r
	normalized.CreatedAt = zeroTime
	normalized.UpdatedAt = zeroTime
	normalized.Version = 0

	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("hash rule %s: %w", r.ID, err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("hash rule %s: %w", r.ID, err)
	}
	stripAssigned(tree)
	h, err := value.HashCanonical(tree)
	if err != nil {
		return "", fmt.Errorf("hash rule %s: %w", r.ID, err)
	}
	return h, nil
}

// HashInput hashes an authoring Input the same way Hash hashes a Rule, so
// a loaded source rule can be compared against a registered one.
func HashInput(in Input) (string, error) {
	return Hash(in.Materialize(zeroTime, 0))
}

// stripAssigned removes zero-valued metadata keys that survive
// marshaling, keeping the hash input purely authored content.
func stripAssigned(tree any) {
	obj, ok := tree.(map[string]any)
	if !ok {
		return
	}
	delete(obj, "createdAt")
	delete(obj, "updatedAt")
	delete(obj, "version")
}

var zeroTime time.Time
