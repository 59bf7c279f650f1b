package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"eduetl/internal/config"
	"eduetl/internal/exporter"
	"eduetl/internal/infrastructure"
	"eduetl/internal/source"
	"eduetl/pkg/contracts/domain"
)

// IngestStep runs the first stage for one year: extract, normalize and
// stage. The year's scratch tree is removed afterwards unless KeepWorkFiles
// is set.
type IngestStep struct {
	BaseStage
	year          int
	paths         *config.Paths
	extractor     YearExtractor
	normalizer    Normalizer
	store         StagingStore
	keepWorkFiles bool
	logger        *slog.Logger
	metrics       *infrastructure.PipelineMetrics
}

// IngestOptions wires an IngestStep
type IngestOptions struct {
	Paths         *config.Paths
	Extractor     YearExtractor
	Normalizer    Normalizer
	Store         StagingStore
	KeepWorkFiles bool
	Logger        *slog.Logger
	Metrics       *infrastructure.PipelineMetrics
}

// NewIngestStep creates the ingest step of year
func NewIngestStep(year int, opts IngestOptions) *IngestStep {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = infrastructure.NoopPipelineMetrics()
	}
	return &IngestStep{
		BaseStage:     NewBaseStage(IngestStepID(year), fmt.Sprintf(StepNameIngest, year), nil),
		year:          year,
		paths:         opts.Paths,
		extractor:     opts.Extractor,
		normalizer:    opts.Normalizer,
		store:         opts.Store,
		keepWorkFiles: opts.KeepWorkFiles,
		logger:        logger.With(slog.String("step", IngestStepID(year))),
		metrics:       metrics,
	}
}

// Year returns the processing year
func (s *IngestStep) Year() int { return s.year }

// Validate checks that every collaborator is wired
func (s *IngestStep) Validate(state *RunState) error {
	if s.paths == nil || s.extractor == nil || s.normalizer == nil || s.store == nil {
		return fmt.Errorf("ingest step for %d is not fully configured", s.year)
	}
	return nil
}

// Execute runs the ingest of one year
func (s *IngestStep) Execute(ctx context.Context, state *RunState) error {
	artifact := config.ArtifactName(s.year)
	yp := s.paths.ForYear(artifact)
	if !s.keepWorkFiles {
		defer func() {
			if err := yp.Cleanup(); err != nil {
				s.logger.WarnContext(ctx, "Failed to remove scratch dir", slog.String("error", err.Error()))
			}
		}()
	}

	progress := NewProgressTracker(s.ID(), 3)

	tables, err := s.extractor.Extract(ctx, s.year, yp)
	if err != nil {
		return NewExecutionError(s.ID(), err, errors.Is(err, source.ErrFetch))
	}
	progress.Report(state, fmt.Sprintf("Extracted %d subject tables", len(tables)))

	long, err := s.normalizer.Normalize(ctx, s.year, tables)
	if err != nil {
		return NewExecutionError(s.ID(), err, false)
	}
	infrastructure.RecordRecords(ctx, s.metrics, "normalized", len(long))
	progress.Report(state, fmt.Sprintf("Normalized %d records", len(long)))

	key, err := s.store.Write(ctx, s.year, long)
	if err != nil {
		return NewExecutionError(s.ID(), err, false)
	}
	progress.Report(state, "Staged "+key)

	if st := state.GetStep(s.ID()); st != nil {
		st.SetMetadata("artifact", key)
		st.SetMetadata("rows", len(long))
	}

	s.logger.InfoContext(ctx, "Year ingested",
		slog.Int("year", s.year),
		slog.String("artifact", key),
		slog.Int("rows", len(long)),
		slog.Duration("duration", progress.Elapsed()))
	return nil
}

// TransformStep reads every staged year and derives both relations. It
// depends on all ingest steps of the run, so it starts only after every
// year has been staged.
type TransformStep struct {
	BaseStage
	years       []int
	store       StagingStore
	transformer WideTransformer
	exportDir   string
	csv         *exporter.CSVWriter
	tables      [2]string
	logger      *slog.Logger
	metrics     *infrastructure.PipelineMetrics
}

// TransformOptions wires a TransformStep
type TransformOptions struct {
	Years       []int
	Store       StagingStore
	Transformer WideTransformer
	// ExportDir, when set, also receives both relations as CSV.
	ExportDir       string
	TimeseriesTable string
	TimechangeTable string
	Logger          *slog.Logger
	Metrics         *infrastructure.PipelineMetrics
}

// NewTransformStep creates the transform step
func NewTransformStep(opts TransformOptions) *TransformStep {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = infrastructure.NoopPipelineMetrics()
	}

	deps := make([]string, len(opts.Years))
	for i, y := range opts.Years {
		deps[i] = IngestStepID(y)
	}

	return &TransformStep{
		BaseStage:   NewBaseStage(StepIDTransform, StepNameTransform, deps),
		years:       opts.Years,
		store:       opts.Store,
		transformer: opts.Transformer,
		exportDir:   opts.ExportDir,
		csv:         exporter.NewCSVWriter(opts.ExportDir, logger),
		tables:      [2]string{opts.TimeseriesTable, opts.TimechangeTable},
		logger:      logger.With(slog.String("step", StepIDTransform)),
		metrics:     metrics,
	}
}

// Validate checks that every collaborator is wired
func (s *TransformStep) Validate(state *RunState) error {
	if s.store == nil || s.transformer == nil {
		return fmt.Errorf("transform step is not fully configured")
	}
	return nil
}

// Execute runs the second stage up to the warehouse write
func (s *TransformStep) Execute(ctx context.Context, state *RunState) error {
	progress := NewProgressTracker(s.ID(), 2)

	table, err := s.store.ReadAll(ctx, s.years)
	if err != nil {
		return NewExecutionError(s.ID(), err, false)
	}
	progress.Report(state, fmt.Sprintf("Read %d staged records", len(table)))

	rel, err := s.transformer.Transform(ctx, table)
	if err != nil {
		return NewExecutionError(s.ID(), err, false)
	}
	infrastructure.RecordRecords(ctx, s.metrics, "timeseries", len(rel.Timeseries))
	infrastructure.RecordRecords(ctx, s.metrics, "timechange", len(rel.TimeChange))
	state.SetContext(ContextKeyRelations, rel)

	if s.exportDir != "" {
		for _, t := range exporter.RelationTables(rel, s.tables[0], s.tables[1]) {
			if _, err := s.csv.WriteTable("", t); err != nil {
				return NewExecutionError(s.ID(), err, false)
			}
		}
	}
	progress.Report(state, "Relations derived")

	if st := state.GetStep(s.ID()); st != nil {
		st.SetMetadata("timeseries_rows", len(rel.Timeseries))
		st.SetMetadata("timechange_rows", len(rel.TimeChange))
	}
	return nil
}

// LoadStep writes the relations derived by the transform step.
type LoadStep struct {
	BaseStage
	loader RelationLoader
	logger *slog.Logger
}

// NewLoadStep creates the load step
func NewLoadStep(loader RelationLoader, logger *slog.Logger) *LoadStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadStep{
		BaseStage: NewBaseStage(StepIDLoad, StepNameLoad, []string{StepIDTransform}),
		loader:    loader,
		logger:    logger.With(slog.String("step", StepIDLoad)),
	}
}

// Validate requires the relations in the run context
func (s *LoadStep) Validate(state *RunState) error {
	if s.loader == nil {
		return fmt.Errorf("load step has no loader")
	}
	if _, ok := relationsFrom(state); !ok {
		return fmt.Errorf("no relations in run context")
	}
	return nil
}

// Execute overwrites both relations in the warehouse
func (s *LoadStep) Execute(ctx context.Context, state *RunState) error {
	rel, ok := relationsFrom(state)
	if !ok {
		return NewFatalError("no relations in run context", nil)
	}
	if err := s.loader.Load(ctx, rel); err != nil {
		return NewExecutionError(s.ID(), err, false)
	}
	state.ReportProgress(s.ID(), 100, "Relations loaded")
	return nil
}

func relationsFrom(state *RunState) (domain.Relations, bool) {
	v, ok := state.GetContext(ContextKeyRelations)
	if !ok {
		return domain.Relations{}, false
	}
	rel, ok := v.(domain.Relations)
	return rel, ok
}
