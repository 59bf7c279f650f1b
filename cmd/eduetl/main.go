package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"eduetl/internal/app"
	"eduetl/internal/config"
	"eduetl/internal/infrastructure"
	"eduetl/internal/operations"
	"eduetl/internal/services"
	"eduetl/internal/validation"
)

const usage = `Usage: eduetl <command> [flags]

Commands:
  ingest     fetch, normalize and stage the configured years
  transform  build the wide relations from staged data and load them
  run        ingest followed by transform
  serve      start the HTTP API, WebSocket feed and optional scheduler
  version    print the version

Run 'eduetl <command> -h' for command flags.
`

// options are the flags shared by every command
type options struct {
	configFile string
	workDir    string
	years      string
	exportDir  string
	logLevel   string
	keepWork   bool
	port       int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd := args[0]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "%s %s\n", config.AppName, config.AppVersion)
		return 0
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case operations.ModeIngest, operations.ModeTransform, operations.ModeRun, "serve":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	opts, err := parseFlags(cmd, args[1:], stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.configFile != "" {
		if err := validation.NewPathValidator(nil).ValidateConfigFile(opts.configFile); err != nil {
			fmt.Fprintf(stderr, "configuration error: %v\n", err)
			return 1
		}
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd == "serve" {
		a, err := app.NewApplication(ctx, cfg, app.Options{Logger: logger})
		if err != nil {
			logger.Error("Failed to initialize application", slog.String("error", err.Error()))
			return 1
		}
		if err := a.Run(ctx); err != nil {
			logger.Error("Application stopped with error", slog.String("error", err.Error()))
			return 1
		}
		return 0
	}

	return runBatch(ctx, cmd, cfg, opts, logger, stdout)
}

func parseFlags(cmd string, args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configFile, "config", "", "YAML config file (default: EDU_CONFIG_FILE, config.yaml, configs/config.yaml)")
	fs.StringVar(&opts.workDir, "work-dir", "", "work directory override")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	switch cmd {
	case operations.ModeIngest:
		fs.StringVar(&opts.years, "years", "", "comma separated subset of the configured years")
		fs.BoolVar(&opts.keepWork, "keep-work-files", false, "keep per-year scratch directories")
	case operations.ModeTransform:
		fs.StringVar(&opts.exportDir, "export", "", "also write both relations as CSV into this directory")
	case operations.ModeRun:
		fs.StringVar(&opts.years, "years", "", "comma separated subset of the configured years")
		fs.StringVar(&opts.exportDir, "export", "", "also write both relations as CSV into this directory")
		fs.BoolVar(&opts.keepWork, "keep-work-files", false, "keep per-year scratch directories")
	case "serve":
		fs.IntVar(&opts.port, "port", 0, "HTTP port override")
	}

	return opts, fs.Parse(args)
}

func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.LoadFrom(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.workDir != "" {
		cfg.Paths.WorkDir = opts.workDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.keepWork {
		cfg.Paths.KeepWorkFiles = true
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	return cfg, cfg.Validate()
}

// parseYears reads a comma separated year list
func parseYears(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var years []int
	for _, part := range strings.Split(raw, ",") {
		year, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		years = append(years, year)
	}
	return years, nil
}

func runBatch(ctx context.Context, mode string, cfg *config.Config, opts options, logger *slog.Logger, stdout io.Writer) int {
	years, err := parseYears(opts.years)
	if err != nil {
		logger.Error("Invalid -years flag", slog.String("error", err.Error()))
		return 2
	}

	pv := validation.NewPathValidator(logger)
	if opts.exportDir != "" {
		if err := pv.ValidateOutputDirectory(opts.exportDir); err != nil {
			logger.Error("Invalid -export directory", slog.String("error", err.Error()))
			return 1
		}
	}
	if mode == operations.ModeTransform && cfg.Staging.Backend == "local" {
		paths, err := config.GetPaths(cfg.Paths.WorkDir)
		if err == nil {
			n, _ := pv.CountStaged(filepath.Join(paths.StagingDir, filepath.FromSlash(cfg.Staging.Prefix)))
			if n < len(cfg.Pipeline.Years) {
				logger.Warn("Fewer staged artifacts than configured years",
					slog.Int("staged", n),
					slog.Int("years", len(cfg.Pipeline.Years)))
			}
		}
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		return 1
	}
	defer providers.Shutdown(context.Background())
	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		logger.Error("Failed to create metrics", slog.String("error", err.Error()))
		return 1
	}

	svc, err := services.NewPipelineService(ctx, cfg, services.PipelineOptions{
		Logger:    logger,
		Metrics:   metrics,
		ExportDir: opts.exportDir,
	})
	if err != nil {
		logger.Error("Failed to initialize pipeline", slog.String("error", err.Error()))
		return 1
	}
	defer svc.Close()

	resp, runErr := svc.Run(ctx, operations.RunRequest{Mode: mode, Years: years})
	if resp != nil {
		writeSummary(stdout, resp, logger)
	}
	if runErr != nil {
		logger.Error("Run failed", slog.String("mode", mode), slog.String("error", runErr.Error()))
		return 1
	}
	return 0
}

// writeSummary prints the run response as indented JSON
func writeSummary(w io.Writer, resp *operations.RunResponse, logger *slog.Logger) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		logger.Error("Failed to write run summary", slog.String("error", err.Error()))
	}
}
