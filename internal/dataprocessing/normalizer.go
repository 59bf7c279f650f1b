package dataprocessing

import (
	"context"
	"log/slog"

	"eduetl/pkg/contracts/domain"
)

// Semester scopes
const (
	// ScopeTable takes the max year from each filtered subject table.
	ScopeTable = "table"
	// ScopeBatch takes the max year across every filtered table of the run.
	ScopeBatch = "batch"
)

// SubjectTable is the raw export of one subject for one processing year.
type SubjectTable struct {
	Subject string
	Records []domain.RawRecord
}

// NormalizerOptions configures a TableNormalizer
type NormalizerOptions struct {
	Rules    FilterRules
	Subjects []string
	Scope    string
	Logger   *slog.Logger
	// OnEmpty, if set, receives every EmptyResultWarning in addition to the log record.
	OnEmpty func(EmptyResultWarning)
}

// TableNormalizer turns the subject tables of one year into a LongTable.
type TableNormalizer struct {
	filter   *RecordFilter
	subjects []string
	scope    string
	logger   *slog.Logger
	onEmpty  func(EmptyResultWarning)
}

// NewTableNormalizer creates a normalizer. An empty scope means ScopeTable.
func NewTableNormalizer(opts NormalizerOptions) *TableNormalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := opts.Scope
	if scope == "" {
		scope = ScopeTable
	}
	return &TableNormalizer{
		filter:   NewRecordFilter(opts.Rules),
		subjects: append([]string(nil), opts.Subjects...),
		scope:    scope,
		logger:   logger.With("component", "normalizer"),
		onEmpty:  opts.OnEmpty,
	}
}

// Normalize filters and labels every configured subject of year, then
// appends the results in subject order. A configured subject without a
// table is a SchemaError.
func (n *TableNormalizer) Normalize(ctx context.Context, year int, tables []SubjectTable) (domain.LongTable, error) {
	bySubject := make(map[string]SubjectTable, len(tables))
	for _, t := range tables {
		bySubject[t.Subject] = t
	}

	filtered := make([][]domain.RawRecord, len(n.subjects))
	for i, subject := range n.subjects {
		table, ok := bySubject[subject]
		if !ok {
			return nil, NewSchemaError(subject, year, "subject table missing from extraction", nil)
		}
		filtered[i] = n.filter.Apply(table.Records)

		n.logger.DebugContext(ctx, "Filtered subject table",
			slog.Int("year", year),
			slog.String("subject", subject),
			slog.Int("rows_in", len(table.Records)),
			slog.Int("rows_out", len(filtered[i])))

		if len(filtered[i]) == 0 {
			n.warnEmpty(ctx, EmptyResultWarning{Subject: subject, Year: year, RowsIn: len(table.Records)})
		}
	}

	batchMax, _ := MaxYear(flatten(filtered))

	var long domain.LongTable
	for i, records := range filtered {
		maxYear := batchMax
		if n.scope == ScopeTable {
			maxYear, _ = MaxYear(records)
		}
		long = long.Append(DeriveSemesters(records, maxYear))

		n.logger.DebugContext(ctx, "Derived semesters",
			slog.Int("year", year),
			slog.String("subject", n.subjects[i]),
			slog.Int("max_year", maxYear))
	}

	if long == nil {
		long = domain.LongTable{}
	}

	n.logger.InfoContext(ctx, "Normalized year",
		slog.Int("year", year),
		slog.Int("subjects", len(n.subjects)),
		slog.Int("rows", long.Len()))

	return long, nil
}

func (n *TableNormalizer) warnEmpty(ctx context.Context, w EmptyResultWarning) {
	n.logger.WarnContext(ctx, "Subject table filtered to zero rows",
		slog.String("subject", w.Subject),
		slog.Int("year", w.Year),
		slog.Int("rows_in", w.RowsIn))
	if n.onEmpty != nil {
		n.onEmpty(w)
	}
}

func flatten(groups [][]domain.RawRecord) []domain.RawRecord {
	var all []domain.RawRecord
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

// Union concatenates yearly tables in the given order.
func Union(tables ...domain.LongTable) domain.LongTable {
	total := 0
	for _, t := range tables {
		total += t.Len()
	}
	out := make(domain.LongTable, 0, total)
	for _, t := range tables {
		out = out.Append(t)
	}
	return out
}

