package domain

// Column names shared by the raw export, the staging artifacts and the
// warehouse relations.
const (
	ColumnEntityName     = "ENTITY_NAME"
	ColumnYear           = "YEAR"
	ColumnAssessmentName = "ASSESSMENT_NAME"
	ColumnSubgroupName   = "SUBGROUP_NAME"
	ColumnPerProf        = "PER_PROF"
	ColumnYearSemester   = "YEAR_SEMESTER"
	ColumnAveragePerProf = "AVERAGE_PER_PROF"
	ColumnTimeChange     = "TIME_CHANGE"
)

// RawColumns lists the columns every exported subject table must carry.
var RawColumns = []string{
	ColumnEntityName,
	ColumnYear,
	ColumnAssessmentName,
	ColumnSubgroupName,
	ColumnPerProf,
}

// StagingColumns lists the columns of a staged yearly artifact, in order.
var StagingColumns = []string{
	ColumnEntityName,
	ColumnAssessmentName,
	ColumnYearSemester,
	ColumnPerProf,
}

// RawRecord is one row of an exported per-subject assessment table.
type RawRecord struct {
	EntityName        string `json:"entity_name"`
	Year              int    `json:"year"`
	AssessmentName    string `json:"assessment_name"`
	SubgroupName      string `json:"subgroup_name"`
	PercentProficient string `json:"percent_proficient"`
}

// CleanedRecord is a filtered row labelled with its year-semester. The
// proficiency value stays string-encoded until the wide transform.
type CleanedRecord struct {
	EntityName        string `json:"entity_name"`
	AssessmentName    string `json:"assessment_name"`
	YearSemester      string `json:"year_semester"`
	PercentProficient string `json:"percent_proficient"`
}

// LongTable is an ordered collection of cleaned records.
type LongTable []CleanedRecord

// Len returns the number of records.
func (t LongTable) Len() int { return len(t) }

// Append concatenates other onto t without deduplication.
func (t LongTable) Append(other LongTable) LongTable {
	return append(t, other...)
}

// TimeseriesRow is one row of the "timeseries" relation. A nil average
// means at least one subject score was missing for the key.
type TimeseriesRow struct {
	EntityName               string `json:"entity_name"`
	YearSemester             string `json:"year_semester"`
	AveragePercentProficient *int   `json:"average_percent_proficient"`
}

// TimeChangeRow is one row of the "timechange" relation. A nil change means
// the oldest or newest semester value was missing.
type TimeChangeRow struct {
	EntityName string `json:"entity_name"`
	TimeChange *int   `json:"time_change"`
}

// Relations bundles the two derived wide tables written to the warehouse.
type Relations struct {
	Timeseries []TimeseriesRow `json:"timeseries"`
	TimeChange []TimeChangeRow `json:"timechange"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
