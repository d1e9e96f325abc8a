// Package tagset implements the set-valued fields of the clinical forms
// (target regions, objectives, constraints, equipment). Sets are kept as
// sorted, deduplicated slices so insertion order never affects equality.
package tagset

import (
	"slices"
	"strings"
)

// Normalize trims and lowercases a tag.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// From builds a set from arbitrary input, dropping blanks and duplicates.
func From(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = Normalize(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Contains reports whether tag is a member of set.
func Contains(set []string, tag string) bool {
	_, found := slices.BinarySearch(set, Normalize(tag))
	return found
}

// Toggle returns a new set with tag added when absent or removed when present.
// The input slice is never modified.
func Toggle(set []string, tag string) []string {
	tag = Normalize(tag)
	current := From(set)
	if tag == "" {
		return current
	}
	idx, found := slices.BinarySearch(current, tag)
	if found {
		return slices.Delete(current, idx, idx+1)
	}
	return slices.Insert(current, idx, tag)
}
