package testutil

import (
	"fmt"
	"strings"

	"eduetl/pkg/contracts/domain"
)

// ExportRow is one row of a fixture subject table.
type ExportRow struct {
	Entity     string
	Year       int
	Assessment string
	Subgroup   string
	PerProf    string
}

// SubjectCSV renders rows the way the legacy export tool prints a table:
// a header line, every text field quoted, plus an unrelated INSTITUTION_ID
// column to show that extra columns are tolerated.
func SubjectCSV(rows ...ExportRow) string {
	var b strings.Builder
	b.WriteString("INSTITUTION_ID,ENTITY_NAME,YEAR,ASSESSMENT_NAME,SUBGROUP_NAME,PER_PROF\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "\"%06d\",\"%s\",%d,\"%s\",\"%s\",\"%s\"\n",
			i, r.Entity, r.Year, r.Assessment, r.Subgroup, r.PerProf)
	}
	return b.String()
}

// CountyRows returns the three highest-grade "All Students" rows of one
// entity and year with the given scores.
func CountyRows(entity string, year int, ela, math, science string) map[string]ExportRow {
	return map[string]ExportRow{
		"ELA":     {entity, year, "ELA8", "All Students", ela},
		"Math":    {entity, year, "MATH8", "All Students", math},
		"Science": {entity, year, "Science8", "All Students", science},
	}
}

// LongRecords builds a long table for the wide transform from
// (entity, semester, assessment, value) quadruples.
func LongRecords(quads ...[4]string) domain.LongTable {
	table := make(domain.LongTable, 0, len(quads))
	for _, q := range quads {
		table = append(table, domain.CleanedRecord{
			EntityName:        q[0],
			YearSemester:      q[1],
			AssessmentName:    q[2],
			PercentProficient: q[3],
		})
	}
	return table
}
