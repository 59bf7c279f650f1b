package dataprocessing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindSchema                ErrorKind = "schema"
	KindExtractionCardinality ErrorKind = "extraction_cardinality"
	KindPivotCollision        ErrorKind = "pivot_collision"
	KindMissingStaging        ErrorKind = "missing_staging"
)

// Sentinels for errors.Is checks against a PipelineError of the same kind.
var (
	ErrSchema                = errors.New("schema error")
	ErrExtractionCardinality = errors.New("extraction cardinality error")
	ErrPivotCollision        = errors.New("pivot collision")
	ErrMissingStaging        = errors.New("missing staged year")
)

// PipelineError is a fatal failure of one processing unit. Subject and
// Year are zero when the failure is not tied to one table.
type PipelineError struct {
	Kind    ErrorKind
	Subject string
	Year    int
	Message string
	Cause   error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Year != 0 {
		fmt.Fprintf(&b, " [year %d]", e.Year)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " [subject %s]", e.Subject)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's kind.
func (e *PipelineError) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(kind ErrorKind) error {
	switch kind {
	case KindSchema:
		return ErrSchema
	case KindExtractionCardinality:
		return ErrExtractionCardinality
	case KindPivotCollision:
		return ErrPivotCollision
	case KindMissingStaging:
		return ErrMissingStaging
	}
	return nil
}

// NewSchemaError reports a missing column or an uncoercible value.
func NewSchemaError(subject string, year int, message string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindSchema,
		Subject: subject,
		Year:    year,
		Message: message,
		Cause:   cause,
	}
}

// NewExtractionCardinalityError reports that dir did not hold exactly one
// file with the given extension.
func NewExtractionCardinalityError(year int, dir, ext string, candidates []string) *PipelineError {
	return &PipelineError{
		Kind: KindExtractionCardinality,
		Year: year,
		Message: fmt.Sprintf("expected exactly one %s file in %s, found %d %v",
			ext, dir, len(candidates), candidates),
	}
}

// NewPivotCollisionError reports a pivot cell fed by more than one row.
func NewPivotCollisionError(entity, yearSemester, assessment string, rows int) *PipelineError {
	return &PipelineError{
		Kind: KindPivotCollision,
		Message: fmt.Sprintf("%d rows for entity %q, semester %s, assessment %s",
			rows, entity, yearSemester, assessment),
	}
}

// NewMissingStagingError reports configured years with no staged artifact.
func NewMissingStagingError(years []int) *PipelineError {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	return &PipelineError{
		Kind:    KindMissingStaging,
		Message: fmt.Sprintf("no staged artifact for years %v", sorted),
	}
}

// IsPipelineError reports whether err is a PipelineError of kind.
func IsPipelineError(err error, kind ErrorKind) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == kind
}

// EmptyResultWarning records that a subject table filtered down to zero
// rows. It is reported, never returned as an error.
type EmptyResultWarning struct {
	Subject string
	Year    int
	RowsIn  int
}

// String renders the warning for logs.
func (w EmptyResultWarning) String() string {
	return fmt.Sprintf("subject %s of year %d: 0 of %d rows passed the filter", w.Subject, w.Year, w.RowsIn)
}
