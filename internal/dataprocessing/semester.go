package dataprocessing

import (
	"strconv"

	"eduetl/pkg/contracts/domain"
)

const (
	firstSemesterSuffix  = "S1"
	secondSemesterSuffix = "S2"
)

// SemesterLabel labels the most recent year of a batch as its first
// semester and every earlier year as a second-semester snapshot.
func SemesterLabel(year, maxYear int) string {
	if year == maxYear {
		return strconv.Itoa(year) + firstSemesterSuffix
	}
	return strconv.Itoa(year) + secondSemesterSuffix
}

// MaxYear returns the largest YEAR in records. ok is false for an empty input.
func MaxYear(records []domain.RawRecord) (max int, ok bool) {
	for i, r := range records {
		if i == 0 || r.Year > max {
			max = r.Year
		}
	}
	return max, len(records) > 0
}

// DeriveSemesters labels every record relative to maxYear and drops the
// year field.
func DeriveSemesters(records []domain.RawRecord, maxYear int) domain.LongTable {
	out := make(domain.LongTable, 0, len(records))
	for _, r := range records {
		out = append(out, domain.CleanedRecord{
			EntityName:        r.EntityName,
			AssessmentName:    r.AssessmentName,
			YearSemester:      SemesterLabel(r.Year, maxYear),
			PercentProficient: r.PercentProficient,
		})
	}
	return out
}
