package dataprocessing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/shared/testutil"
	"eduetl/pkg/contracts/domain"
)

var codes = []string{"ELA8", "MATH8", "Science8"}

func newWide(change ...string) *WideTransformer {
	if len(change) == 0 {
		change = codes
	}
	return NewWideTransformer(WideOptions{
		AssessmentCodes:   codes,
		ChangeAssessments: change,
		OldestSemester:    "2018S1",
		NewestSemester:    "2022S1",
	})
}

func TestAverageView(t *testing.T) {
	tests := []struct {
		name  string
		table domain.LongTable
		want  []domain.TimeseriesRow
	}{
		{
			name: "mean of three subjects",
			table: testutil.LongRecords(
				[4]string{"A", "2020S1", "ELA8", "60"},
				[4]string{"A", "2020S1", "MATH8", "70"},
				[4]string{"A", "2020S1", "Science8", "80"},
			),
			want: []domain.TimeseriesRow{{EntityName: "A", YearSemester: "2020S1", AveragePercentProficient: domain.IntPtr(70)}},
		},
		{
			name: "fraction below half rounds down",
			table: testutil.LongRecords(
				[4]string{"A", "2020S1", "ELA8", "60"},
				[4]string{"A", "2020S1", "MATH8", "60"},
				[4]string{"A", "2020S1", "Science8", "61"},
			),
			// 181/3 = 60.33
			want: []domain.TimeseriesRow{{EntityName: "A", YearSemester: "2020S1", AveragePercentProficient: domain.IntPtr(60)}},
		},
		{
			name: "two thirds rounds up",
			table: testutil.LongRecords(
				[4]string{"A", "2020S1", "ELA8", "60"},
				[4]string{"A", "2020S1", "MATH8", "61"},
				[4]string{"A", "2020S1", "Science8", "61"},
			),
			want: []domain.TimeseriesRow{{EntityName: "A", YearSemester: "2020S1", AveragePercentProficient: domain.IntPtr(61)}},
		},
		{
			name: "missing subject propagates",
			table: testutil.LongRecords(
				[4]string{"A", "2020S1", "ELA8", "60"},
				[4]string{"A", "2020S1", "MATH8", "70"},
			),
			want: []domain.TimeseriesRow{{EntityName: "A", YearSemester: "2020S1"}},
		},
		{
			name: "suppressed score propagates",
			table: testutil.LongRecords(
				[4]string{"A", "2020S1", "ELA8", "60"},
				[4]string{"A", "2020S1", "MATH8", "s"},
				[4]string{"A", "2020S1", "Science8", "80"},
			),
			want: []domain.TimeseriesRow{{EntityName: "A", YearSemester: "2020S1"}},
		},
		{
			name: "sorted by entity then semester",
			table: testutil.LongRecords(
				[4]string{"B", "2022S1", "ELA8", "1"},
				[4]string{"A", "2022S1", "ELA8", "2"},
				[4]string{"A", "2021S2", "ELA8", "3"},
			),
			want: []domain.TimeseriesRow{
				{EntityName: "A", YearSemester: "2021S2"},
				{EntityName: "A", YearSemester: "2022S1"},
				{EntityName: "B", YearSemester: "2022S1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := newWide().AverageView(tt.table)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestChangeView(t *testing.T) {
	tests := []struct {
		name   string
		change []string
		table  domain.LongTable
		want   []domain.TimeChangeRow
	}{
		{
			name:   "newest minus oldest",
			change: []string{"MATH8"},
			table: testutil.LongRecords(
				[4]string{"A", "2018S1", "MATH8", "50"},
				[4]string{"A", "2021S2", "MATH8", "65"},
				[4]string{"A", "2022S1", "MATH8", "80"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A", TimeChange: domain.IntPtr(30)}},
		},
		{
			name:   "absent newest semester",
			change: []string{"MATH8"},
			table: testutil.LongRecords(
				[4]string{"A", "2018S1", "MATH8", "50"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A"}},
		},
		{
			name:   "absent oldest semester",
			change: []string{"MATH8"},
			table: testutil.LongRecords(
				[4]string{"A", "2022S1", "MATH8", "80"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A"}},
		},
		{
			name:   "suppressed operand",
			change: []string{"MATH8"},
			table: testutil.LongRecords(
				[4]string{"A", "2018S1", "MATH8", "s"},
				[4]string{"A", "2022S1", "MATH8", "80"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A"}},
		},
		{
			name:   "change can be negative",
			change: []string{"ELA8"},
			table: testutil.LongRecords(
				[4]string{"A", "2018S1", "ELA8", "70"},
				[4]string{"A", "2022S1", "ELA8", "55"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A", TimeChange: domain.IntPtr(-15)}},
		},
		{
			name: "all subjects sum per semester",
			table: testutil.LongRecords(
				[4]string{"A", "2018S1", "ELA8", "40"},
				[4]string{"A", "2018S1", "MATH8", "50"},
				[4]string{"A", "2018S1", "Science8", "60"},
				[4]string{"A", "2022S1", "ELA8", "45"},
				[4]string{"A", "2022S1", "MATH8", "55"},
				[4]string{"A", "2022S1", "Science8", "70"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A", TimeChange: domain.IntPtr(20)}},
		},
		{
			name: "sum skips a suppressed subject",
			table: testutil.LongRecords(
				[4]string{"A", "2018S1", "ELA8", "40"},
				[4]string{"A", "2018S1", "MATH8", "s"},
				[4]string{"A", "2022S1", "ELA8", "45"},
			),
			want: []domain.TimeChangeRow{{EntityName: "A", TimeChange: domain.IntPtr(5)}},
		},
		{
			name:   "entity without selected subject",
			change: []string{"MATH8"},
			table: testutil.LongRecords(
				[4]string{"B", "2022S1", "ELA8", "40"},
				[4]string{"A", "2018S1", "MATH8", "50"},
				[4]string{"A", "2022S1", "MATH8", "52"},
			),
			want: []domain.TimeChangeRow{
				{EntityName: "A", TimeChange: domain.IntPtr(2)},
				{EntityName: "B"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := newWide(tt.change...).ChangeView(tt.table)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestPivotCollision(t *testing.T) {
	table := testutil.LongRecords(
		[4]string{"A", "2022S1", "ELA8", "40"},
		[4]string{"A", "2022S1", "MATH8", "50"},
		[4]string{"A", "2022S1", "ELA8", "41"},
	)

	w := newWide()
	_, err := w.Transform(context.Background(), table)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPivotCollision))
	assert.Contains(t, err.Error(), `2 rows for entity "A", semester 2022S1, assessment ELA8`)

	_, err = w.AverageView(table)
	assert.True(t, errors.Is(err, ErrPivotCollision))
	_, err = w.ChangeView(table)
	assert.True(t, errors.Is(err, ErrPivotCollision))
}

func TestTransformEmptyTable(t *testing.T) {
	rel, err := newWide().Transform(context.Background(), domain.LongTable{})
	require.NoError(t, err)
	assert.Empty(t, rel.Timeseries)
	assert.Empty(t, rel.TimeChange)
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"40", domain.IntPtr(40)},
		{" 7 ", domain.IntPtr(7)},
		{"-3", domain.IntPtr(-3)},
		{"45.9", domain.IntPtr(45)},
		{"-2.5", domain.IntPtr(-2)},
		{"", nil},
		{"s", nil},
		{"NaN", nil},
		{"Inf", nil},
		{"-", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePercent(tt.in))
		})
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 71, RoundHalfAwayFromZero(70.5))
	assert.Equal(t, 70, RoundHalfAwayFromZero(70.49))
	assert.Equal(t, 72, RoundHalfAwayFromZero(71.5))
	assert.Equal(t, -3, RoundHalfAwayFromZero(-2.5))
}
