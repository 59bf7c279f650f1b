package http

import (
	"context"

	"eduetl/internal/operations"
	"eduetl/internal/services"
)

// RunService is the part of the pipeline service the run handler uses
type RunService interface {
	Start(ctx context.Context, req operations.RunRequest) (*operations.RunState, error)
	GetRun(ctx context.Context, id string) (*operations.RunState, error)
	ListRuns(ctx context.Context) []*operations.RunState
	CancelRun(ctx context.Context, id string) error
	Snapshot(id string) (*operations.RunSnapshot, bool)
}

// HealthChecker reports service health
type HealthChecker interface {
	HealthCheck(ctx context.Context) services.HealthStatus
}
