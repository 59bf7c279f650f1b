package dataprocessing

import (
	"strings"

	"eduetl/pkg/contracts/domain"
)

// FilterRules are the three row-selection predicates of a subject table.
type FilterRules struct {
	// EntityMarkers are case-sensitive substrings; an entity matches if it
	// contains any of them.
	EntityMarkers []string
	// Subgroup must equal SUBGROUP_NAME exactly.
	Subgroup string
	// AssessmentCodes are matched literally, capitalization included.
	AssessmentCodes []string
}

// RecordFilter selects the rows of a raw table that satisfy all rules.
type RecordFilter struct {
	markers  []string
	subgroup string
	codes    map[string]struct{}
}

// NewRecordFilter creates a filter for rules
func NewRecordFilter(rules FilterRules) *RecordFilter {
	codes := make(map[string]struct{}, len(rules.AssessmentCodes))
	for _, code := range rules.AssessmentCodes {
		codes[code] = struct{}{}
	}
	return &RecordFilter{
		markers:  append([]string(nil), rules.EntityMarkers...),
		subgroup: rules.Subgroup,
		codes:    codes,
	}
}

// Matches reports whether r satisfies all three predicates.
func (f *RecordFilter) Matches(r domain.RawRecord) bool {
	if r.SubgroupName != f.subgroup {
		return false
	}
	if _, ok := f.codes[r.AssessmentName]; !ok {
		return false
	}
	for _, marker := range f.markers {
		if strings.Contains(r.EntityName, marker) {
			return true
		}
	}
	return false
}

// Apply returns the matching records in input order. The result is never
// nil, so an empty input yields an empty slice.
func (f *RecordFilter) Apply(records []domain.RawRecord) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
