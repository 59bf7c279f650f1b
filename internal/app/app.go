package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"eduetl/internal/config"
	apierrors "eduetl/internal/errors"
	"eduetl/internal/infrastructure"
	"eduetl/internal/middleware"
	"eduetl/internal/scheduler"
	"eduetl/internal/services"
	handlers "eduetl/internal/transport/http"
	ws "eduetl/internal/websocket"
)

// Application holds every long-lived component of serve mode
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	WebSocketHub  *ws.Hub
	Pipeline      *services.PipelineService
	Health        *services.HealthService
	Scheduler     *scheduler.Scheduler
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.PipelineMetrics
}

// Options overrides parts of the wiring. Zero values build everything
// from the configuration.
type Options struct {
	Logger   *slog.Logger
	Pipeline services.PipelineOptions
}

// NewApplication wires the telemetry providers, the WebSocket hub, the
// pipeline and health services, the optional scheduler and the router.
func NewApplication(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	wsMetrics, err := ws.NewMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket metrics: %w", err)
	}

	hub := ws.NewHub(logger, wsMetrics)

	pipeOpts := opts.Pipeline
	pipeOpts.Hub = hub
	pipeOpts.Logger = logger
	pipeOpts.Metrics = metrics
	pipeline, err := services.NewPipelineService(ctx, cfg, pipeOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	hub.SetSnapshotSource(func(runID string) (interface{}, bool) {
		snapshot, ok := pipeline.Snapshot(runID)
		if !ok {
			return nil, false
		}
		return snapshot, true
	})

	health := services.NewHealthService(services.HealthOptions{
		Version: config.AppVersion,
		WorkDir: pipeline.Paths().WorkDir,
		Runs:    pipeline,
		Staging: pipeline,
		Clients: hub,
		Logger:  logger,
	})

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		WebSocketHub:  hub,
		Pipeline:      pipeline,
		Health:        health,
		OTelProviders: providers,
		Metrics:       metrics,
	}

	if cfg.Schedule.Cron != "" {
		a.Scheduler, err = scheduler.New(pipeline, pipeline, scheduler.Options{
			Spec:      cfg.Schedule.Cron,
			Mode:      cfg.Schedule.Mode,
			Retention: cfg.Schedule.Retention,
			Logger:    logger,
		})
		if err != nil {
			pipeline.Close()
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development")

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger).Handler)
	r.Use(apierrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		ExposedHeaders: []string{"X-Request-ID", "Location"},
		Logger:         a.Logger,
	}))
	if a.Config.Server.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(a.Config.Server.RateLimitRPS, a.Config.Server.RateLimitBurst, a.Logger).Handler)
	}

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}
	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger))

	healthHandler := handlers.NewHealthHandler(a.Health, a.Logger)
	runsHandler := handlers.NewRunsHandler(a.Pipeline, errorHandler, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimw.Timeout(a.Config.Server.ReadTimeout))

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Mount("/runs", runsHandler.Routes())
	})

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start runs the hub, the scheduler and the HTTP server in the background.
// A listener failure calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level),
		slog.Bool("scheduled", a.Scheduler != nil))

	a.WebSocketHub.Start()
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", a.Server.Addr))
	return nil
}

// Stop shuts the server down, cancels active runs and flushes telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}

	for _, run := range a.Pipeline.ListRuns(ctx) {
		if run.IsTerminal() {
			continue
		}
		if err := a.Pipeline.CancelRun(ctx, run.ID); err != nil {
			a.Logger.WarnContext(ctx, "Failed to cancel run",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
		}
	}

	if err := a.Pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	a.WebSocketHub.Stop()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run serves until SIGINT, SIGTERM or a listener failure
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("Shutdown requested")
	return a.Stop(context.Background())
}
