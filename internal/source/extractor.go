package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"eduetl/internal/config"
	"eduetl/internal/dataprocessing"
	"eduetl/internal/files"
	"eduetl/pkg/contracts/domain"
)

// ErrFetch marks failures to download a year's archive.
var ErrFetch = errors.New("fetch failed")

// ArchiveFetcher downloads the archive of one year to dest.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, year int, dest string) (int64, error)
}

// Extractor turns a processing year into its raw subject tables: fetch the
// archive, unpack it, locate the single legacy database and export one
// table per subject.
type Extractor struct {
	fetcher       ArchiveFetcher
	exporter      TableExporter
	files         *files.Manager
	discovery     *files.Discovery
	subjects      []string
	tableTemplate string
	extension     string
	logger        *slog.Logger
}

// ExtractorOptions configures an Extractor
type ExtractorOptions struct {
	Fetcher       ArchiveFetcher
	Exporter      TableExporter
	Files         *files.Manager
	Subjects      []string
	TableTemplate string
	Extension     string
	Logger        *slog.Logger
}

// NewExtractor creates an extractor
func NewExtractor(opts ExtractorOptions) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fm := opts.Files
	if fm == nil {
		fm = files.NewManager("", logger)
	}
	return &Extractor{
		fetcher:       opts.Fetcher,
		exporter:      opts.Exporter,
		files:         fm,
		discovery:     files.NewDiscovery(""),
		subjects:      append([]string(nil), opts.Subjects...),
		tableTemplate: opts.TableTemplate,
		extension:     opts.Extension,
		logger:        logger.With("component", "extractor"),
	}
}

// Extract produces the raw subject tables of year inside the scratch tree
// yp. The caller owns the cleanup of yp.
func (e *Extractor) Extract(ctx context.Context, year int, yp config.YearPaths) ([]dataprocessing.SubjectTable, error) {
	if err := yp.Ensure(); err != nil {
		return nil, err
	}

	artifact := config.ArtifactName(year)
	archive := yp.ArchivePath(artifact)
	if _, err := e.fetcher.Fetch(ctx, year, archive); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, artifact, err)
	}

	if _, err := e.files.ExtractZip(archive, yp.UnzippedDir); err != nil {
		return nil, fmt.Errorf("extract %s: %w", artifact, err)
	}
	if err := os.Remove(archive); err != nil {
		e.logger.WarnContext(ctx, "Failed to remove archive", slog.String("path", archive), slog.String("error", err.Error()))
	}

	database, err := e.FindSourceDatabase(year, yp.UnzippedDir)
	if err != nil {
		return nil, err
	}

	tables := make([]dataprocessing.SubjectTable, 0, len(e.subjects))
	for _, subject := range e.subjects {
		records, err := e.exportSubject(ctx, year, database, subject, yp.CSVPath(subject))
		if err != nil {
			return nil, err
		}
		tables = append(tables, dataprocessing.SubjectTable{Subject: subject, Records: records})
	}
	return tables, nil
}

// FindSourceDatabase returns the only file with the configured extension
// below dir. Zero or several candidates is an ExtractionCardinalityError.
func (e *Extractor) FindSourceDatabase(year int, dir string) (string, error) {
	found, err := e.discovery.FindRecursive(dir, e.extension)
	if err != nil {
		return "", err
	}
	if len(found) != 1 {
		return "", dataprocessing.NewExtractionCardinalityError(year, dir, e.extension, files.Names(found))
	}

	e.logger.Info("Located source database",
		slog.Int("year", year),
		slog.String("path", found[0].Path),
		slog.Int64("size_bytes", found[0].Size))
	return found[0].Path, nil
}

// TableName returns the legacy table holding subject.
func (e *Extractor) TableName(subject string) string {
	return fmt.Sprintf(e.tableTemplate, subject)
}

func (e *Extractor) exportSubject(ctx context.Context, year int, database, subject, csvPath string) ([]domain.RawRecord, error) {
	table := e.TableName(subject)

	out, err := os.Create(csvPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", csvPath, err)
	}
	if err := e.exporter.Export(ctx, database, table, out); err != nil {
		out.Close()
		return nil, fmt.Errorf("export %q of %d: %w", table, year, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	in, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	records, err := dataprocessing.ReadRawTable(in, subject, year)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Exported subject table",
		slog.Int("year", year),
		slog.String("subject", subject),
		slog.String("table", table),
		slog.Int("rows", len(records)))
	return records, nil
}
