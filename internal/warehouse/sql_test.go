package warehouse

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/config"
	"eduetl/internal/shared/testutil"
	"eduetl/pkg/contracts/domain"
)

func sampleRelations() domain.Relations {
	return domain.Relations{
		Timeseries: []domain.TimeseriesRow{
			{EntityName: "ALBANY County", YearSemester: "2018S1", AveragePercentProficient: domain.IntPtr(36)},
			{EntityName: "ALBANY County", YearSemester: "2022S1", AveragePercentProficient: domain.IntPtr(57)},
			{EntityName: "BRONX County", YearSemester: "2022S1", AveragePercentProficient: nil},
		},
		TimeChange: []domain.TimeChangeRow{
			{EntityName: "ALBANY County", TimeChange: domain.IntPtr(21)},
			{EntityName: "BRONX County", TimeChange: nil},
		},
	}
}

func defaultTables() Tables {
	return Tables{Dataset: "education_database", Timeseries: "timeseries", TimeChange: "timechange"}
}

func newSQLiteLoader(t *testing.T) *SQLLoader {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "warehouse", "education_database.db"))
	require.NoError(t, err)
	logger, _ := testutil.NewTestLogger(t)
	loader := NewSQLLoader(db, SQLite, defaultTables(), logger)
	t.Cleanup(func() { loader.Close() })
	return loader
}

type timeseriesRow struct {
	entity   string
	semester string
	average  sql.NullInt64
}

func queryTimeseries(t *testing.T, db *sql.DB) []timeseriesRow {
	t.Helper()
	rows, err := db.Query(`SELECT "ENTITY_NAME", "YEAR_SEMESTER", "AVERAGE_PER_PROF" FROM "timeseries" ORDER BY 1, 2`)
	require.NoError(t, err)
	defer rows.Close()

	var out []timeseriesRow
	for rows.Next() {
		var r timeseriesRow
		require.NoError(t, rows.Scan(&r.entity, &r.semester, &r.average))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestSQLLoaderSQLite(t *testing.T) {
	ctx := context.Background()
	loader := newSQLiteLoader(t)
	assert.Equal(t, "sqlite", loader.Name())

	require.NoError(t, loader.Load(ctx, sampleRelations()))

	got := queryTimeseries(t, loader.DB())
	require.Len(t, got, 3)
	assert.Equal(t, timeseriesRow{"ALBANY County", "2018S1", sql.NullInt64{Int64: 36, Valid: true}}, got[0])
	assert.False(t, got[2].average.Valid)

	var change sql.NullInt64
	require.NoError(t, loader.DB().QueryRow(`SELECT "TIME_CHANGE" FROM "timechange" WHERE "ENTITY_NAME" = ?`, "ALBANY County").Scan(&change))
	assert.Equal(t, int64(21), change.Int64)
}

func TestSQLLoaderOverwrites(t *testing.T) {
	ctx := context.Background()
	loader := newSQLiteLoader(t)

	require.NoError(t, loader.Load(ctx, sampleRelations()))
	require.NoError(t, loader.Load(ctx, domain.Relations{
		Timeseries: []domain.TimeseriesRow{
			{EntityName: "KINGS County", YearSemester: "2022S1", AveragePercentProficient: domain.IntPtr(40)},
		},
	}))

	got := queryTimeseries(t, loader.DB())
	require.Len(t, got, 1)
	assert.Equal(t, "KINGS County", got[0].entity)

	var n int
	require.NoError(t, loader.DB().QueryRow(`SELECT COUNT(*) FROM "timechange"`).Scan(&n))
	assert.Zero(t, n)
}

func TestSQLLoaderRejectsBadIdentifiers(t *testing.T) {
	loader := newSQLiteLoader(t)
	loader.tables.Timeseries = `timeseries"; DROP TABLE x; --`

	err := loader.Load(context.Background(), sampleRelations())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid identifier")
}

func TestQualifiedName(t *testing.T) {
	sqlite := &SQLLoader{dialect: SQLite, tables: defaultTables()}
	name, err := sqlite.QualifiedName("timeseries")
	require.NoError(t, err)
	assert.Equal(t, `"timeseries"`, name)

	pg := &SQLLoader{dialect: Postgres, tables: defaultTables()}
	name, err = pg.QualifiedName("timeseries")
	require.NoError(t, err)
	assert.Equal(t, `"education_database"."timeseries"`, name)

	assert.Equal(t, "$2", Postgres.placeholder(2))
	assert.Equal(t, "?", SQLite.placeholder(2))
}

func TestNewLoader(t *testing.T) {
	paths, err := config.GetPaths(t.TempDir())
	require.NoError(t, err)
	base := config.WarehouseConfig{Dataset: "education_database", TimeseriesTable: "timeseries", TimechangeTable: "timechange"}

	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: config.WarehouseBackendSQLite, want: "sqlite"},
		{backend: config.WarehouseBackendFile, want: "file"},
		{backend: "oracle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := base
			cfg.Backend = tt.backend
			loader, err := NewLoader(context.Background(), cfg, paths, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer loader.Close()
			assert.Equal(t, tt.want, loader.Name())
		})
	}
}
