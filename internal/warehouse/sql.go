package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"eduetl/pkg/contracts/domain"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name string
	// Schemas reports whether the dataset maps to a database schema.
	Schemas     bool
	placeholder func(n int) string
}

var (
	// Postgres places the relations in a schema named after the dataset.
	Postgres = Dialect{Name: "postgres", Schemas: true, placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
	// SQLite keeps one database file per dataset.
	SQLite = Dialect{Name: "sqlite", placeholder: func(int) string { return "?" }}
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(ident string) (string, error) {
	if !identRe.MatchString(ident) {
		return "", fmt.Errorf("invalid identifier %q", ident)
	}
	return `"` + ident + `"`, nil
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create warehouse dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLLoader writes the relations into a SQL database inside one
// transaction, dropping and recreating both tables.
type SQLLoader struct {
	db      *sql.DB
	dialect Dialect
	tables  Tables
	logger  *slog.Logger
}

// NewSQLLoader takes ownership of db.
func NewSQLLoader(db *sql.DB, dialect Dialect, tables Tables, logger *slog.Logger) *SQLLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLLoader{
		db:      db,
		dialect: dialect,
		tables:  tables,
		logger:  logger.With(slog.String("component", "warehouse"), slog.String("backend", dialect.Name)),
	}
}

// Name returns the dialect name, postgres or sqlite.
func (l *SQLLoader) Name() string { return l.dialect.Name }

// DB exposes the underlying handle for queries against loaded data.
func (l *SQLLoader) DB() *sql.DB { return l.db }

// Close closes the database handle.
func (l *SQLLoader) Close() error { return l.db.Close() }

// QualifiedName returns the quoted table name, schema-qualified where the
// dialect supports schemas.
func (l *SQLLoader) QualifiedName(table string) (string, error) {
	name, err := quoteIdent(table)
	if err != nil {
		return "", err
	}
	if !l.dialect.Schemas {
		return name, nil
	}
	schema, err := quoteIdent(l.tables.Dataset)
	if err != nil {
		return "", err
	}
	return schema + "." + name, nil
}

// Load replaces both relations inside one transaction. Each table is
// dropped, recreated and filled row by row through a prepared INSERT.
func (l *SQLLoader) Load(ctx context.Context, rel domain.Relations) error {
	timeseries, err := l.QualifiedName(l.tables.Timeseries)
	if err != nil {
		return err
	}
	timechange, err := l.QualifiedName(l.tables.TimeChange)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if l.dialect.Schemas {
		schema, _ := quoteIdent(l.tables.Dataset)
		if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	tsRows := make([][]any, len(rel.Timeseries))
	for i, r := range rel.Timeseries {
		tsRows[i] = []any{r.EntityName, r.YearSemester, nullInt(r.AveragePercentProficient)}
	}
	if err := l.replace(ctx, tx, timeseries, []column{
		{domain.ColumnEntityName, "TEXT NOT NULL"},
		{domain.ColumnYearSemester, "TEXT NOT NULL"},
		{domain.ColumnAveragePerProf, "INTEGER"},
	}, tsRows); err != nil {
		return err
	}

	tcRows := make([][]any, len(rel.TimeChange))
	for i, r := range rel.TimeChange {
		tcRows[i] = []any{r.EntityName, nullInt(r.TimeChange)}
	}
	if err := l.replace(ctx, tx, timechange, []column{
		{domain.ColumnEntityName, "TEXT NOT NULL"},
		{domain.ColumnTimeChange, "INTEGER"},
	}, tcRows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit warehouse load: %w", err)
	}

	l.logger.InfoContext(ctx, "Loaded relations",
		slog.String("timeseries_table", timeseries),
		slog.String("timechange_table", timechange),
		slog.Int("timeseries_rows", len(rel.Timeseries)),
		slog.Int("timechange_rows", len(rel.TimeChange)))
	return nil
}

type column struct {
	name string
	decl string
}

func (l *SQLLoader) replace(ctx context.Context, tx *sql.Tx, table string, cols []column, rows [][]any) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("failed to drop %s: %w", table, err)
	}

	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		name, err := quoteIdent(c.name)
		if err != nil {
			return err
		}
		defs[i] = name + " " + c.decl
		names[i] = name
		marks[i] = l.dialect.placeholder(i + 1)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, table, err)
		}
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
