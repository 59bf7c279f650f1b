package dataprocessing

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"eduetl/pkg/contracts/domain"
)

// WideOptions configures a WideTransformer
type WideOptions struct {
	// AssessmentCodes are the pivot columns of the average view.
	AssessmentCodes []string
	// ChangeAssessments are summed per semester in the change view.
	ChangeAssessments []string
	OldestSemester    string
	NewestSemester    string
	Logger            *slog.Logger
}

// WideTransformer reshapes the union of staged long tables into the
// timeseries and timechange relations.
type WideTransformer struct {
	codes          []string
	change         map[string]bool
	oldest, newest string
	logger         *slog.Logger
}

// NewWideTransformer creates a transformer for opts
func NewWideTransformer(opts WideOptions) *WideTransformer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	change := make(map[string]bool, len(opts.ChangeAssessments))
	for _, code := range opts.ChangeAssessments {
		change[code] = true
	}
	return &WideTransformer{
		codes:  append([]string(nil), opts.AssessmentCodes...),
		change: change,
		oldest: opts.OldestSemester,
		newest: opts.NewestSemester,
		logger: logger.With("component", "wide_transformer"),
	}
}

type cellKey struct {
	entity, semester, assessment string
}

type groupKey struct {
	entity, semester string
}

// cells indexes the long table by pivot cell. More than one row per
// (entity, semester, assessment) is a PivotCollisionError.
type cells struct {
	values   map[cellKey]*int
	groups   []groupKey
	entities []string
}

func indexCells(table domain.LongTable) (*cells, error) {
	c := &cells{values: make(map[cellKey]*int, len(table))}
	seenGroup := make(map[groupKey]bool)
	seenEntity := make(map[string]bool)

	for _, r := range table {
		key := cellKey{r.EntityName, r.YearSemester, r.AssessmentName}
		if _, dup := c.values[key]; dup {
			return nil, NewPivotCollisionError(r.EntityName, r.YearSemester, r.AssessmentName, countRows(table, key))
		}
		c.values[key] = ParsePercent(r.PercentProficient)

		g := groupKey{r.EntityName, r.YearSemester}
		if !seenGroup[g] {
			seenGroup[g] = true
			c.groups = append(c.groups, g)
		}
		if !seenEntity[r.EntityName] {
			seenEntity[r.EntityName] = true
			c.entities = append(c.entities, r.EntityName)
		}
	}

	sort.Slice(c.groups, func(i, j int) bool {
		if c.groups[i].entity != c.groups[j].entity {
			return c.groups[i].entity < c.groups[j].entity
		}
		return c.groups[i].semester < c.groups[j].semester
	})
	sort.Strings(c.entities)
	return c, nil
}

func countRows(table domain.LongTable, key cellKey) int {
	n := 0
	for _, r := range table {
		if r.EntityName == key.entity && r.YearSemester == key.semester && r.AssessmentName == key.assessment {
			n++
		}
	}
	return n
}

// Transform builds both relations from one pass over table.
func (w *WideTransformer) Transform(ctx context.Context, table domain.LongTable) (domain.Relations, error) {
	c, err := indexCells(table)
	if err != nil {
		return domain.Relations{}, err
	}

	rel := domain.Relations{
		Timeseries: w.averageView(c),
		TimeChange: w.changeView(c),
	}

	w.logger.InfoContext(ctx, "Built wide relations",
		slog.Int("rows_in", table.Len()),
		slog.Int("timeseries_rows", len(rel.Timeseries)),
		slog.Int("timechange_rows", len(rel.TimeChange)),
		slog.String("oldest_semester", w.oldest),
		slog.String("newest_semester", w.newest))

	return rel, nil
}

// AverageView pivots assessments into columns per (entity, semester) and
// averages them. Any missing subject makes the average missing.
func (w *WideTransformer) AverageView(table domain.LongTable) ([]domain.TimeseriesRow, error) {
	c, err := indexCells(table)
	if err != nil {
		return nil, err
	}
	return w.averageView(c), nil
}

// ChangeView pivots semesters into columns per entity and subtracts the
// oldest configured semester from the newest.
func (w *WideTransformer) ChangeView(table domain.LongTable) ([]domain.TimeChangeRow, error) {
	c, err := indexCells(table)
	if err != nil {
		return nil, err
	}
	return w.changeView(c), nil
}

func (w *WideTransformer) averageView(c *cells) []domain.TimeseriesRow {
	rows := make([]domain.TimeseriesRow, 0, len(c.groups))
	for _, g := range c.groups {
		values := make([]*int, len(w.codes))
		for i, code := range w.codes {
			values[i] = c.values[cellKey{g.entity, g.semester, code}]
		}
		rows = append(rows, domain.TimeseriesRow{
			EntityName:               g.entity,
			YearSemester:             g.semester,
			AveragePercentProficient: roundedMean(values),
		})
	}
	return rows
}

func (w *WideTransformer) changeView(c *cells) []domain.TimeChangeRow {
	rows := make([]domain.TimeChangeRow, 0, len(c.entities))
	for _, entity := range c.entities {
		newest := w.semesterSum(c, entity, w.newest)
		oldest := w.semesterSum(c, entity, w.oldest)

		var change *int
		if newest != nil && oldest != nil {
			change = domain.IntPtr(*newest - *oldest)
		}
		rows = append(rows, domain.TimeChangeRow{EntityName: entity, TimeChange: change})
	}
	return rows
}

// semesterSum adds the change assessments of one entity and semester.
// Missing values are skipped; a cell with no present value is missing.
func (w *WideTransformer) semesterSum(c *cells, entity, semester string) *int {
	var sum *int
	for code := range w.change {
		v := c.values[cellKey{entity, semester, code}]
		if v == nil {
			continue
		}
		if sum == nil {
			sum = domain.IntPtr(0)
		}
		*sum += *v
	}
	return sum
}

func roundedMean(values []*int) *int {
	if len(values) == 0 {
		return nil
	}
	total := 0
	for _, v := range values {
		if v == nil {
			return nil
		}
		total += *v
	}
	return domain.IntPtr(RoundHalfAwayFromZero(float64(total) / float64(len(values))))
}

// RoundHalfAwayFromZero rounds x to the nearest integer, ties away from zero.
func RoundHalfAwayFromZero(x float64) int {
	return int(math.Round(x))
}

// ParsePercent casts a string-encoded proficiency to an integer. Blank and
// non-numeric values (suppressed cells) are missing; decimals truncate
// toward zero.
func ParsePercent(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return &v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return domain.IntPtr(int(f))
}
