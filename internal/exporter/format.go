package exporter

import (
	"strconv"

	"eduetl/pkg/contracts/domain"
)

// Table is a named relation ready for export. Missing values are empty strings.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// formatNullableInt renders v, or an empty cell when it is missing.
func formatNullableInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// TimeseriesTable converts the average view into an exportable table.
func TimeseriesTable(name string, rows []domain.TimeseriesRow) Table {
	t := Table{
		Name:    name,
		Headers: []string{domain.ColumnEntityName, domain.ColumnYearSemester, domain.ColumnAveragePerProf},
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.EntityName, r.YearSemester, formatNullableInt(r.AveragePercentProficient)})
	}
	return t
}

// TimeChangeTable converts the change view into an exportable table.
func TimeChangeTable(name string, rows []domain.TimeChangeRow) Table {
	t := Table{
		Name:    name,
		Headers: []string{domain.ColumnEntityName, domain.ColumnTimeChange},
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.EntityName, formatNullableInt(r.TimeChange)})
	}
	return t
}

// RelationTables returns both relations under the given table names.
func RelationTables(rel domain.Relations, timeseriesName, timechangeName string) []Table {
	return []Table{
		TimeseriesTable(timeseriesName, rel.Timeseries),
		TimeChangeTable(timechangeName, rel.TimeChange),
	}
}
