package operations

import (
	"context"
	"log/slog"
	"time"

	"eduetl/internal/infrastructure"
)

// withRun tags ctx with runID unless it already carries it
func withRun(ctx context.Context, runID string) context.Context {
	if infrastructure.GetRunID(ctx) == runID {
		return ctx
	}
	return infrastructure.WithRunID(ctx, runID)
}

// logRunStart logs the start of a run
func (m *Manager) logRunStart(ctx context.Context, state *RunState, steps []Step) {
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID()
	}
	m.logger.InfoContext(withRun(ctx, state.ID), "run_start",
		slog.String("mode", state.Mode),
		slog.String("execution_mode", string(m.config.ExecutionMode)),
		slog.Any("steps", ids))
}

// logRunComplete logs the end of a run
func (m *Manager) logRunComplete(ctx context.Context, runID string, duration time.Duration, status string) {
	m.logger.InfoContext(withRun(ctx, runID), "run_complete",
		slog.String("status", status),
		slog.Duration("duration", duration))
}

// logRunError logs a run error
func (m *Manager) logRunError(ctx context.Context, runID string, err error) {
	errorMsg := "unknown error"
	if err != nil {
		errorMsg = err.Error()
	}
	m.logger.ErrorContext(withRun(ctx, runID), "run_error",
		slog.String("error", errorMsg))
}

// logStepStart logs the start of a step
func (m *Manager) logStepStart(ctx context.Context, runID, stepID string) {
	m.logger.InfoContext(withRun(ctx, runID), "step_start",
		slog.String("step", stepID))
}

// logStepComplete logs the completion of a step
func (m *Manager) logStepComplete(ctx context.Context, runID, stepID string, duration time.Duration) {
	m.logger.InfoContext(withRun(ctx, runID), "step_complete",
		slog.String("step", stepID),
		slog.Duration("duration", duration))
}

// logStepError logs a failed step attempt
func (m *Manager) logStepError(ctx context.Context, runID, stepID string, attempt int, err error) {
	m.logger.ErrorContext(withRun(ctx, runID), "step_error",
		slog.String("step", stepID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
		slog.Bool("retryable", IsRetryable(err)),
		slog.String("error_type", string(GetErrorType(err))))
}
