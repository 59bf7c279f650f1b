package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"eduetl/internal/config"
	"eduetl/internal/dataprocessing"
	"eduetl/internal/files"
	"eduetl/internal/infrastructure"
	"eduetl/internal/operations"
	"eduetl/internal/source"
	"eduetl/internal/staging"
	"eduetl/internal/warehouse"
)

// PipelineService assembles the run steps from configuration and exposes
// run control to the CLI, the scheduler and the HTTP API.
type PipelineService struct {
	cfg     *config.Config
	paths   *config.Paths
	manager *operations.Manager
	store   operations.StagingStore
	loader  warehouse.Loader
	logger  *slog.Logger
}

// PipelineOptions wires a PipelineService. Collaborators left nil are
// built from the configuration.
type PipelineOptions struct {
	Hub     operations.WebSocketHub
	Logger  *slog.Logger
	Metrics *infrastructure.PipelineMetrics
	// ExportDir, when set, also receives both relations as CSV files.
	ExportDir string

	Extractor operations.YearExtractor
	Store     operations.StagingStore
	Loader    warehouse.Loader
	Runner    *operations.Config
}

// NewPipelineService builds every collaborator and registers one ingest
// step per configured year, the transform step and the load step.
func NewPipelineService(ctx context.Context, cfg *config.Config, opts PipelineOptions) (*PipelineService, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("service", "pipeline"))
	metrics := opts.Metrics
	if metrics == nil {
		metrics = infrastructure.NoopPipelineMetrics()
	}

	paths, err := config.GetPaths(cfg.Paths.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	paths.LogPathResolution(logger)

	extractor := opts.Extractor
	if extractor == nil {
		fm := files.NewManager("", logger)
		extractor = source.NewExtractor(source.ExtractorOptions{
			Fetcher:       source.NewFetcher(cfg.Source, fm, logger, metrics),
			Exporter:      source.NewCommandExporter(cfg.Source.ExportCommand),
			Files:         fm,
			Subjects:      cfg.Pipeline.Subjects,
			TableTemplate: cfg.Pipeline.TableTemplate,
			Extension:     cfg.Source.DatabaseExtension,
			Logger:        logger,
		})
	}

	store := opts.Store
	if store == nil {
		backend, err := staging.NewBackend(ctx, cfg.Staging, paths, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create staging backend: %w", err)
		}
		store = staging.NewStore(backend, staging.StoreOptions{
			Prefix:  cfg.Staging.Prefix,
			Logger:  logger,
			Metrics: metrics,
		})
	}

	loader := opts.Loader
	if loader == nil {
		loader, err = warehouse.NewLoader(ctx, cfg.Warehouse, paths, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create warehouse loader: %w", err)
		}
	}

	normalizer := dataprocessing.NewTableNormalizer(dataprocessing.NormalizerOptions{
		Rules: dataprocessing.FilterRules{
			EntityMarkers:   cfg.Pipeline.EntityMarkers,
			Subgroup:        cfg.Pipeline.Subgroup,
			AssessmentCodes: cfg.Pipeline.AssessmentCodes,
		},
		Subjects: cfg.Pipeline.Subjects,
		Scope:    cfg.Pipeline.SemesterScope,
		Logger:   logger,
		OnEmpty: func(w dataprocessing.EmptyResultWarning) {
			metrics.EmptyResults.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("subject", w.Subject),
				attribute.Int("year", w.Year),
			))
		},
	})
	transformer := dataprocessing.NewWideTransformer(dataprocessing.WideOptions{
		AssessmentCodes:   cfg.Pipeline.AssessmentCodes,
		ChangeAssessments: cfg.Pipeline.ChangeAssessments,
		OldestSemester:    cfg.Pipeline.OldestSemester,
		NewestSemester:    cfg.Pipeline.NewestSemester,
		Logger:            logger,
	})

	manager := operations.NewManager(opts.Hub, nil, opts.Runner, logger, metrics)
	for _, year := range cfg.Pipeline.Years {
		step := operations.NewIngestStep(year, operations.IngestOptions{
			Paths:         paths,
			Extractor:     extractor,
			Normalizer:    normalizer,
			Store:         store,
			KeepWorkFiles: cfg.Paths.KeepWorkFiles,
			Logger:        logger,
			Metrics:       metrics,
		})
		if err := manager.RegisterStep(step); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", step.ID(), err)
		}
	}
	steps := []operations.Step{
		operations.NewTransformStep(operations.TransformOptions{
			Years:           cfg.Pipeline.Years,
			Store:           store,
			Transformer:     transformer,
			ExportDir:       opts.ExportDir,
			TimeseriesTable: cfg.Warehouse.TimeseriesTable,
			TimechangeTable: cfg.Warehouse.TimechangeTable,
			Logger:          logger,
			Metrics:         metrics,
		}),
		operations.NewLoadStep(loader, logger),
	}
	for _, step := range steps {
		if err := manager.RegisterStep(step); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", step.ID(), err)
		}
	}
	if err := manager.GetRegistry().ValidateDependencies(); err != nil {
		return nil, err
	}

	logger.Info("Pipeline service initialized",
		slog.Any("years", cfg.Pipeline.Years),
		slog.String("staging_backend", cfg.Staging.Backend),
		slog.String("warehouse", loader.Name()),
		slog.Int("steps", manager.GetRegistry().Count()))

	return &PipelineService{
		cfg:     cfg,
		paths:   paths,
		manager: manager,
		store:   store,
		loader:  loader,
		logger:  logger,
	}, nil
}

// Run executes a run to completion.
func (ps *PipelineService) Run(ctx context.Context, req operations.RunRequest) (*operations.RunResponse, error) {
	ps.logger.InfoContext(ctx, "Starting run",
		slog.String("id", req.ID),
		slog.String("mode", req.Mode),
		slog.Any("years", req.Years))

	resp, err := ps.manager.Execute(ctx, req)
	if err != nil {
		if resp == nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return resp, fmt.Errorf("run %s failed: %w", resp.ID, err)
	}

	ps.logger.InfoContext(ctx, "Run finished",
		slog.String("id", resp.ID),
		slog.String("status", string(resp.Status)),
		slog.Duration("duration", resp.Duration))
	return resp, nil
}

// Start launches a run in the background and returns its initial state.
func (ps *PipelineService) Start(ctx context.Context, req operations.RunRequest) (*operations.RunState, error) {
	state, err := ps.manager.Start(ctx, req)
	if err != nil {
		if operations.GetErrorType(err) == operations.ErrorTypeValidation {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, err
	}
	ps.logger.InfoContext(ctx, "Run started",
		slog.String("id", state.ID),
		slog.String("mode", state.Mode))
	return state, nil
}

// GetRun returns the state of a run
func (ps *PipelineService) GetRun(ctx context.Context, id string) (*operations.RunState, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	state, err := ps.manager.GetRun(id)
	if errors.Is(err, operations.ErrRunNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return state, err
}

// ListRuns returns every known run, newest first
func (ps *PipelineService) ListRuns(ctx context.Context) []*operations.RunState {
	return ps.manager.ListRuns()
}

// CancelRun stops an active run
func (ps *PipelineService) CancelRun(ctx context.Context, id string) error {
	err := ps.manager.CancelRun(id)
	switch {
	case errors.Is(err, operations.ErrRunNotFound):
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrRunNotRunning, err)
	}
	ps.logger.InfoContext(ctx, "Run cancelled", slog.String("id", id))
	return nil
}

// Snapshot returns the broadcast view of a run
func (ps *PipelineService) Snapshot(id string) (*operations.RunSnapshot, bool) {
	return ps.manager.GetBroadcaster().GetSnapshot(id)
}

// StagedYears lists the years that have a staged artifact. Stores that
// cannot list report none.
func (ps *PipelineService) StagedYears(ctx context.Context) ([]int, error) {
	lister, ok := ps.store.(interface {
		Years(context.Context) ([]int, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.Years(ctx)
}

// ActiveRuns counts runs that have not finished
func (ps *PipelineService) ActiveRuns() int {
	n := 0
	for _, run := range ps.manager.ListRuns() {
		if !run.IsTerminal() {
			n++
		}
	}
	return n
}

// PruneRuns forgets finished runs older than maxAge
func (ps *PipelineService) PruneRuns(maxAge time.Duration) int {
	return ps.manager.PruneRuns(maxAge)
}

// Config returns the configuration the service was built from
func (ps *PipelineService) Config() *config.Config {
	return ps.cfg
}

// Paths returns the resolved work directory layout
func (ps *PipelineService) Paths() *config.Paths {
	return ps.paths
}

// Manager returns the underlying run manager
func (ps *PipelineService) Manager() *operations.Manager {
	return ps.manager
}

// Close releases the warehouse connection and stops broadcasting.
func (ps *PipelineService) Close() error {
	ps.manager.Close()
	if err := ps.loader.Close(); err != nil {
		return fmt.Errorf("failed to close %s loader: %w", ps.loader.Name(), err)
	}
	return nil
}
