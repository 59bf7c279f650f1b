package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"eduetl/internal/config"
	"eduetl/internal/dataprocessing"
	"eduetl/internal/infrastructure"
	"eduetl/pkg/contracts/domain"
)

// ParquetExtension is the suffix of every staged artifact.
const ParquetExtension = ".parquet"

var artifactPattern = regexp.MustCompile(`^` + config.ArtifactPrefix + `(\d{4})\.parquet$`)

func hasParquetExtension(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ParquetExtension)
}

// Store publishes one long-format artifact per year and reads them back
// as a single table.
type Store struct {
	backend     Backend
	codec       *ParquetCodec
	prefix      string
	concurrency int
	logger      *slog.Logger
	metrics     *infrastructure.PipelineMetrics
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Prefix      string
	Concurrency int
	Logger      *slog.Logger
	Metrics     *infrastructure.PipelineMetrics
}

// NewStore creates a store over backend.
func NewStore(backend Backend, opts StoreOptions) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = infrastructure.NoopPipelineMetrics()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Store{
		backend:     backend,
		codec:       NewParquetCodec(),
		prefix:      opts.Prefix,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.With(slog.String("component", "staging"), slog.String("backend", backend.Name())),
		metrics:     opts.Metrics,
	}
}

// Key returns the object key of the artifact of year.
func (s *Store) Key(year int) string {
	return path.Join(s.prefix, config.ArtifactName(year)+ParquetExtension)
}

// Write encodes table and publishes it as the artifact of year, replacing
// any earlier artifact.
func (s *Store) Write(ctx context.Context, year int, table domain.LongTable) (string, error) {
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, table); err != nil {
		return "", fmt.Errorf("failed to encode staging table for %d: %w", year, err)
	}

	key := s.Key(year)
	size := buf.Len()
	start := time.Now()
	if err := s.backend.Put(ctx, key, &buf); err != nil {
		return "", err
	}

	infrastructure.RecordRecords(ctx, s.metrics, "staged", len(table))
	s.logger.InfoContext(ctx, "Staged yearly artifact",
		slog.Int("year", year),
		slog.String("key", key),
		slog.Int("rows", len(table)),
		slog.Int("size_bytes", size),
		slog.Duration("duration", time.Since(start)))
	return key, nil
}

// Years lists the years that currently have a staged artifact.
func (s *Store) Years(ctx context.Context) ([]int, error) {
	keys, err := s.backend.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	var years []int
	for _, key := range keys {
		m := artifactPattern.FindStringSubmatch(path.Base(key))
		if m == nil || path.Dir(key) != path.Clean(s.prefix) {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

// ReadAll returns the union of every artifact staged under the prefix in
// ascending year order. Each year in required must be present, otherwise
// a MissingStagingError is returned before anything is read.
func (s *Store) ReadAll(ctx context.Context, required []int) (domain.LongTable, error) {
	years, err := s.Years(ctx)
	if err != nil {
		return nil, err
	}

	present := make(map[int]bool, len(years))
	for _, y := range years {
		present[y] = true
	}
	var missing []int
	for _, y := range required {
		if !present[y] {
			missing = append(missing, y)
		}
	}
	if len(missing) > 0 {
		return nil, dataprocessing.NewMissingStagingError(missing)
	}

	tables := make([]domain.LongTable, len(years))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, year := range years {
		g.Go(func() error {
			t, err := s.read(gctx, year)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	union := dataprocessing.Union(tables...)
	s.logger.InfoContext(ctx, "Read staged artifacts",
		slog.Any("years", years),
		slog.Int("rows", len(union)))
	return union, nil
}

func (s *Store) read(ctx context.Context, year int) (domain.LongTable, error) {
	rc, err := s.backend.Get(ctx, s.Key(year))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged artifact for %d: %w", year, err)
	}

	table, err := s.codec.Decode(ctx, data)
	if err != nil {
		var pe *dataprocessing.PipelineError
		if errors.As(err, &pe) {
			pe.Year = year
		}
		return nil, fmt.Errorf("failed to decode staged artifact for %d: %w", year, err)
	}
	return table, nil
}
