package target

import (
	"encoding/json"
	"fmt"
)

// ParseRawTargets decodes the on-disk JSON target-list (spec.md §6) into
// RawTargets. A missing or malformed file is a Configuration error
// (spec.md §7): the caller surfaces it as a node-level Warning and skips
// sampling for the pass rather than crashing the observer.
func ParseRawTargets(data []byte) ([]RawTarget, error) {
	var raw []RawTarget
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("target.ParseRawTargets: %w", err)
	}
	return raw, nil
}
