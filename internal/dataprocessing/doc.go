// Package dataprocessing holds the transformation core of the assessment
// pipeline: row filtering, year-semester derivation, per-year
// normalization and the wide reshaping of the staged union.
//
// # Architecture
//
//  1. RecordFilter: keeps rows whose entity contains a marker substring,
//     whose subgroup is the configured one and whose assessment code is in
//     the configured set.
//  2. SemesterDeriver (MaxYear, DeriveSemesters): labels the newest year of
//     a batch "<year>S1" and every other year "<year>S2".
//  3. TableNormalizer: filters and labels each subject table of one year
//     and appends them into one LongTable.
//  4. WideTransformer: builds the timeseries relation (rounded mean of the
//     assessment columns per entity and semester) and the timechange
//     relation (newest minus oldest semester per entity).
//
// # Data Flow
//
//	CSV export → ReadRawTable → TableNormalizer → LongTable (staged per year)
//	staged union → WideTransformer → Relations
//
// # Error Handling
//
// Fatal failures are *PipelineError values whose Kind matches one of
// ErrSchema, ErrExtractionCardinality, ErrPivotCollision or
// ErrMissingStaging under errors.Is. A subject table that filters down to
// nothing is an EmptyResultWarning: logged and reported, never returned.
//
// # Missing Values
//
// PER_PROF stays a string until the wide transform, where ParsePercent
// casts it. Non-numeric cells become missing. The mean of a group with a
// missing subject is missing, and so is a change with a missing operand.
// Means round half away from zero.
package dataprocessing
