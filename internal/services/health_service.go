package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// RunCounter reports how many runs are in flight
type RunCounter interface {
	ActiveRuns() int
}

// StagingProbe lists the staged years; an error means the staging backend
// is unreachable.
type StagingProbe interface {
	StagedYears(ctx context.Context) ([]int, error)
}

// ClientCounter reports connected WebSocket clients
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	workDir   string
	runs      RunCounter
	staging   StagingProbe
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthOptions wires a HealthService. Nil collaborators are reported as
// not configured and do not affect readiness.
type HealthOptions struct {
	Version string
	WorkDir string
	Runs    RunCounter
	Staging StagingProbe
	Clients ClientCounter
	Logger  *slog.Logger
}

// NewHealthService creates a new health service
func NewHealthService(opts HealthOptions) *HealthService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   opts.Version,
		workDir:   opts.WorkDir,
		runs:      opts.Runs,
		staging:   opts.Staging,
		clients:   opts.Clients,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns liveness plus the state of every dependency
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
		Services: map[string]ServiceHealth{
			"work_dir": hs.checkWorkDir(),
			"staging":  hs.checkStaging(ctx),
		},
	}

	if hs.runs != nil {
		status.Runtime["active_runs"] = hs.runs.ActiveRuns()
	}
	if hs.clients != nil {
		status.Runtime["websocket_clients"] = hs.clients.ClientCount()
	}

	for name, svc := range status.Services {
		if svc.Status == "error" {
			status.Status = "degraded"
			hs.logger.WarnContext(ctx, "Health check failed",
				slog.String("dependency", name),
				slog.String("message", svc.Message))
		}
	}
	return status
}

// checkWorkDir verifies the work directory exists and is writable
func (hs *HealthService) checkWorkDir() ServiceHealth {
	if hs.workDir == "" {
		return ServiceHealth{Status: "not_configured"}
	}
	if _, err := os.Stat(hs.workDir); err != nil {
		return ServiceHealth{Status: "error", Message: fmt.Sprintf("work directory not found: %s", hs.workDir)}
	}
	probe, err := os.CreateTemp(hs.workDir, ".health-*")
	if err != nil {
		return ServiceHealth{Status: "error", Message: fmt.Sprintf("cannot write to work directory: %v", err)}
	}
	probe.Close()
	os.Remove(filepath.Clean(probe.Name()))
	return ServiceHealth{Status: "ok"}
}

// checkStaging lists the staging prefix
func (hs *HealthService) checkStaging(ctx context.Context) ServiceHealth {
	if hs.staging == nil {
		return ServiceHealth{Status: "not_configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	years, err := hs.staging.StagedYears(ctx)
	if err != nil {
		return ServiceHealth{Status: "error", Message: err.Error()}
	}
	return ServiceHealth{Status: "ok", Message: fmt.Sprintf("%d staged years", len(years))}
}
