package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"eduetl/internal/exporter"
	"eduetl/pkg/contracts/domain"
)

// File formats understood by FileLoader.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	// FormatCSVBOM is CSV with a UTF-8 byte order mark for spreadsheet tools
	FormatCSVBOM = "csv_bom"
)

// FileLoader writes the relations as flat files under dir: one CSV per
// relation, or one workbook named after the dataset.
type FileLoader struct {
	dir    string
	format string
	tables Tables
	csv    *exporter.CSVWriter
	xlsx   *exporter.XLSXWriter
	logger *slog.Logger
}

// NewFileLoader creates a loader writing format into dir.
func NewFileLoader(dir, format string, tables Tables, logger *slog.Logger) *FileLoader {
	if logger == nil {
		logger = slog.Default()
	}
	if format == "" {
		format = FormatCSV
	}
	csv := exporter.NewCSVWriter(dir, logger)
	if format == FormatCSVBOM {
		csv.WithBOM()
	}
	return &FileLoader{
		dir:    dir,
		format: format,
		tables: tables,
		csv:    csv,
		xlsx:   exporter.NewXLSXWriter(logger),
		logger: logger.With(slog.String("component", "warehouse"), slog.String("backend", "file")),
	}
}

func (l *FileLoader) Name() string { return "file" }

func (l *FileLoader) Close() error { return nil }

func (l *FileLoader) Load(ctx context.Context, rel domain.Relations) error {
	tables := exporter.RelationTables(rel, l.tables.Timeseries, l.tables.TimeChange)

	switch l.format {
	case FormatCSV, FormatCSVBOM:
		for _, t := range tables {
			path, err := l.csv.WriteTable(l.tables.Dataset, t)
			if err != nil {
				return err
			}
			l.logger.DebugContext(ctx, "Wrote relation", slog.String("path", path), slog.Int("rows", len(t.Rows)))
		}
		return nil
	case FormatXLSX:
		return l.xlsx.WriteWorkbook(l.WorkbookPath(), tables...)
	default:
		return fmt.Errorf("unknown file format %q", l.format)
	}
}

// WorkbookPath returns where the xlsx output is written.
func (l *FileLoader) WorkbookPath() string {
	return filepath.Join(l.dir, l.tables.Dataset+".xlsx")
}
