package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"eduetl/internal/infrastructure"
)

// Manager orchestrates run execution
type Manager struct {
	registry    *Registry
	config      *Config
	broadcaster *StatusBroadcaster
	tracer      *RunTracer
	logger      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewManager creates a run manager. A nil hub keeps snapshots without
// broadcasting them.
func NewManager(hub WebSocketHub, registry *Registry, config *Config, logger *slog.Logger, metrics *infrastructure.PipelineMetrics) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		registry:    registry,
		config:      config,
		broadcaster: NewStatusBroadcaster(hub, logger),
		tracer:      NewRunTracer(metrics),
		logger:      logger.With(slog.String("component", "operations")),
		runs:        make(map[string]*RunState),
	}
}

// RegisterStep registers a step with the manager
func (m *Manager) RegisterStep(step Step) error {
	return m.registry.Register(step)
}

// GetRegistry returns the registry of steps
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetBroadcaster returns the status broadcaster
func (m *Manager) GetBroadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// SelectSteps returns the ids of the registered steps a request runs.
func (m *Manager) SelectSteps(req RunRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("", err.Error())
	}

	var ids []string
	switch req.Mode {
	case ModeRun:
		ingest, err := m.ingestSteps(req.Years)
		if err != nil {
			return nil, err
		}
		ids = append(ingest, m.stage2Steps()...)
	case ModeIngest:
		ingest, err := m.ingestSteps(req.Years)
		if err != nil {
			return nil, err
		}
		ids = ingest
	case ModeTransform:
		ids = m.stage2Steps()
	}

	if len(ids) == 0 {
		return nil, NewValidationError("", fmt.Sprintf("no steps registered for mode %s", req.Mode))
	}
	return ids, nil
}

// ingestSteps returns the ingest step ids for years, or every ingest step
// when years is empty. An unconfigured year is a validation error.
func (m *Manager) ingestSteps(years []int) ([]string, error) {
	var ids []string
	if len(years) > 0 {
		for _, year := range years {
			id := IngestStepID(year)
			if !m.registry.Has(id) {
				return nil, NewValidationError(id, fmt.Sprintf("year %d is not configured", year))
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	for _, id := range m.registry.ListIDs() {
		if _, ok := IngestYear(id); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// stage2Steps returns the registered transform and load step ids
func (m *Manager) stage2Steps() []string {
	var ids []string
	for _, id := range []string{StepIDTransform, StepIDLoad} {
		if m.registry.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Execute runs a request to completion
func (m *Manager) Execute(ctx context.Context, req RunRequest) (*RunResponse, error) {
	state, steps, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	state.mu.Lock()
	state.cancel = cancel
	state.mu.Unlock()

	err = m.run(runCtx, state, steps)
	return m.createResponse(state), err
}

// Start launches a request in the background and returns its initial
// state. The run outlives ctx's cancellation; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, req RunRequest) (*RunState, error) {
	state, steps, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state.mu.Lock()
	state.cancel = cancel
	state.mu.Unlock()

	go func() {
		defer cancel()
		_ = m.run(runCtx, state, steps)
	}()
	return state.Clone(), nil
}

// prepare creates and stores the state of a new run
func (m *Manager) prepare(ctx context.Context, req RunRequest) (*RunState, []Step, error) {
	if req.Mode == "" {
		req.Mode = ModeRun
	}
	ids, err := m.SelectSteps(req)
	if err != nil {
		m.logRunError(ctx, req.ID, err)
		return nil, nil, err
	}
	steps, err := m.registry.DependencyOrder(ids...)
	if err != nil {
		err = NewFatalError("failed to resolve step order", err)
		m.logRunError(ctx, req.ID, err)
		return nil, nil, err
	}

	if req.ID == "" {
		req.ID = "run-" + uuid.New().String()
	}

	m.mu.Lock()
	if existing, ok := m.runs[req.ID]; ok && !existing.IsTerminal() {
		m.mu.Unlock()
		return nil, nil, NewValidationError("", fmt.Sprintf("run %s is already active", req.ID))
	}
	state := NewRunState(req.ID, req.Mode)
	for _, step := range steps {
		state.Steps[step.ID()] = NewStepState(step.ID(), step.Name())
	}
	runID := req.ID
	state.progress = func(stepID string, progress int, message string) {
		m.broadcaster.UpdateStep(runID, stepID, StepStatusActive, progress, message)
	}
	m.runs[req.ID] = state
	m.mu.Unlock()

	m.broadcaster.CreateRun(req.ID, req.Mode, steps)
	return state, steps, nil
}

// run executes the ordered steps of a prepared run
func (m *Manager) run(ctx context.Context, state *RunState, steps []Step) error {
	ctx = infrastructure.WithRunID(infrastructure.EnsureTraceID(ctx), state.ID)
	ctx, span := m.tracer.TraceRun(ctx, state.ID, state.Mode)
	m.logRunStart(ctx, state, steps)

	state.Start()
	m.broadcaster.StartRun(state.ID)

	var err error
	if m.config.ExecutionMode == ExecutionModeSequential {
		err = m.executeSequential(ctx, state, steps)
	} else {
		err = m.executeParallel(ctx, state, steps)
	}

	switch {
	case err == nil:
		state.Complete()
		m.broadcaster.CompleteRun(state.ID, "Run completed successfully")
	case ctx.Err() != nil && state.GetStatus() == RunStatusCancelled:
		state.Fail(err)
		m.broadcaster.CancelRun(state.ID)
	default:
		state.Fail(err)
		m.broadcaster.FailRun(state.ID, err)
	}

	duration := state.Duration()
	m.tracer.EndRun(ctx, span, state.Mode, duration, err)
	m.logRunComplete(ctx, state.ID, duration, string(state.GetStatus()))
	if err != nil {
		m.logRunError(ctx, state.ID, err)
	}
	return err
}

// executeSequential executes steps one by one
func (m *Manager) executeSequential(ctx context.Context, state *RunState, steps []Step) error {
	var errs []error
	for i, step := range steps {
		if ctx.Err() != nil {
			m.skipRemaining(state, steps[i:], "Run cancelled")
			return errors.Join(append(errs, NewCancellationError(step.ID()))...)
		}
		if state.GetStep(step.ID()).GetStatus() == StepStatusSkipped {
			continue
		}

		m.logger.InfoContext(ctx, "executing_step",
			slog.String("step", step.ID()),
			slog.Int("step_number", i+1),
			slog.Int("total_steps", len(steps)))

		if err := m.executeStep(ctx, state, step); err != nil {
			errs = append(errs, err)
			m.skipDependentSteps(state, steps, step.ID())
			if !m.config.ContinueOnError {
				m.skipRemaining(state, steps[i+1:], fmt.Sprintf("Run stopped after %s failed", step.ID()))
				return errors.Join(errs...)
			}
		}
	}
	return errors.Join(errs...)
}

// executeParallel runs the steps in waves. Every wave holds the steps
// whose dependencies inside the run have all finished.
func (m *Manager) executeParallel(ctx context.Context, state *RunState, steps []Step) error {
	limit := m.config.MaxConcurrency
	if limit < 1 {
		limit = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	remaining := steps
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			m.skipRemaining(state, remaining, "Run cancelled")
			errs = append(errs, NewCancellationError(remaining[0].ID()))
			break
		}

		wave, rest := m.nextWave(state, remaining)
		remaining = rest
		if len(wave) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, step := range wave {
			g.Go(func() error {
				err := m.executeStep(gctx, state, step)
				if err == nil {
					return nil
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				if m.config.ContinueOnError {
					return nil
				}
				return err
			})
		}
		waveErr := g.Wait()

		for _, step := range wave {
			if state.GetStep(step.ID()).GetStatus() == StepStatusFailed {
				m.skipDependentSteps(state, remaining, step.ID())
			}
		}
		if waveErr != nil {
			m.skipRemaining(state, remaining, "Run stopped after a step failed")
			break
		}
	}
	return errors.Join(errs...)
}

// nextWave splits off the steps that are ready to run. steps is in
// dependency order so the first pending step is always ready.
func (m *Manager) nextWave(state *RunState, steps []Step) (wave, rest []Step) {
	inWave := make(map[string]bool)
	for _, step := range steps {
		if state.GetStep(step.ID()).GetStatus() == StepStatusSkipped {
			continue
		}
		ready := true
		for _, dep := range step.GetDependencies() {
			depState := state.GetStep(dep)
			if depState == nil {
				continue
			}
			if inWave[dep] || depState.GetStatus() == StepStatusPending {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, step)
			inWave[step.ID()] = true
		} else {
			rest = append(rest, step)
		}
	}
	return wave, rest
}

// executeStep executes a single step with retry logic
func (m *Manager) executeStep(ctx context.Context, state *RunState, step Step) error {
	m.logStepStart(ctx, state.ID, step.ID())
	stepState := state.GetStep(step.ID())
	if stepState == nil {
		return NewFatalError(fmt.Sprintf("step state %s not found", step.ID()), nil)
	}

	if err := m.checkDependencies(state, step); err != nil {
		m.logger.WarnContext(ctx, "dependencies_not_met",
			slog.String("step", step.ID()),
			slog.String("error", err.Error()))
		stepState.Skip(fmt.Sprintf("Dependencies not met: %v", err))
		m.broadcaster.UpdateStep(state.ID, step.ID(), StepStatusSkipped, 0, stepState.Message)
		return err
	}

	if err := step.Validate(state); err != nil {
		m.logger.WarnContext(ctx, "validation_failed",
			slog.String("step", step.ID()),
			slog.String("error", err.Error()))
		stepState.Fail(err)
		m.broadcaster.FailStep(state.ID, step.ID(), err)
		return NewValidationError(step.ID(), err.Error())
	}

	timeout := m.config.GetStepTimeout(step.ID())
	stepCtx, cancel := context.WithTimeout(infrastructure.WithStepID(ctx, step.ID()), timeout)
	defer cancel()

	retryConfig := m.config.RetryConfig
	if retryConfig.MaxAttempts < 1 {
		retryConfig.MaxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		stepState.Start()
		m.broadcaster.UpdateStep(state.ID, step.ID(), StepStatusActive, 0, "Step started")

		spanCtx, span := m.tracer.TraceStep(stepCtx, state.ID, step.ID(), attempt)
		startTime := time.Now()
		err := step.Execute(spanCtx, state)
		duration := time.Since(startTime)
		m.tracer.EndStep(spanCtx, span, step.ID(), duration, err)

		if err == nil {
			m.logStepComplete(ctx, state.ID, step.ID(), duration)
			stepState.Complete()
			m.broadcaster.UpdateStep(state.ID, step.ID(), StepStatusCompleted, 100, "Step completed successfully")
			return nil
		}

		m.logStepError(ctx, state.ID, step.ID(), attempt, err)
		if meta := stepState.Clone().Metadata; len(meta) > 0 {
			if metaJSON, jerr := json.Marshal(meta); jerr == nil {
				m.logger.DebugContext(ctx, "step_metadata",
					slog.String("step", step.ID()),
					slog.String("metadata", string(metaJSON)))
			}
		}

		if stepCtx.Err() != nil {
			return m.failStep(state, stepState, step.ID(), m.contextError(ctx, step.ID(), timeout))
		}
		if !IsRetryable(err) || attempt >= retryConfig.MaxAttempts {
			return m.failStep(state, stepState, step.ID(), WrapError(err, step.ID(), "step execution failed"))
		}

		delay := calculateRetryDelay(attempt, retryConfig)
		m.logger.WarnContext(ctx, "step_retry",
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", retryConfig.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-stepCtx.Done():
			timer.Stop()
			return m.failStep(state, stepState, step.ID(), m.contextError(ctx, step.ID(), timeout))
		}
	}
}

func (m *Manager) failStep(state *RunState, stepState *StepState, stepID string, err error) error {
	stepState.Fail(err)
	m.broadcaster.FailStep(state.ID, stepID, err)
	return err
}

// contextError tells a cancelled run from a step that ran out of time
func (m *Manager) contextError(parent context.Context, stepID string, timeout time.Duration) error {
	if parent.Err() != nil {
		return NewCancellationError(stepID)
	}
	return NewTimeoutError(stepID, timeout.String())
}

// skipDependentSteps marks all pending steps that depend on the failed
// step as skipped
func (m *Manager) skipDependentSteps(state *RunState, steps []Step, failedStepID string) {
	for _, step := range steps {
		for _, dep := range step.GetDependencies() {
			if dep != failedStepID {
				continue
			}
			stepState := state.GetStep(step.ID())
			if stepState != nil && stepState.GetStatus() == StepStatusPending {
				reason := fmt.Sprintf("Dependency %s failed", failedStepID)
				stepState.Skip(reason)
				m.broadcaster.UpdateStep(state.ID, step.ID(), StepStatusSkipped, 0, "Skipped: "+reason)
				m.skipDependentSteps(state, steps, step.ID())
			}
			break
		}
	}
}

func (m *Manager) skipRemaining(state *RunState, steps []Step, reason string) {
	for _, step := range steps {
		stepState := state.GetStep(step.ID())
		if stepState != nil && stepState.GetStatus() == StepStatusPending {
			stepState.Skip(reason)
			m.broadcaster.UpdateStep(state.ID, step.ID(), StepStatusSkipped, 0, reason)
		}
	}
}

// checkDependencies verifies that every dependency inside the run has
// completed. Dependencies outside the run count as satisfied.
func (m *Manager) checkDependencies(state *RunState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStep(dep)
		if depState == nil {
			continue
		}
		if status := depState.GetStatus(); status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, status)
		}
	}
	return nil
}

// calculateRetryDelay returns InitialDelay * Multiplier^(attempt-1),
// capped at MaxDelay
func calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// createResponse creates a run response from state
func (m *Manager) createResponse(state *RunState) *RunResponse {
	snapshot := state.Clone()
	resp := &RunResponse{
		ID:       snapshot.ID,
		Mode:     snapshot.Mode,
		Status:   snapshot.Status,
		Duration: state.Duration(),
		Steps:    snapshot.Steps,
	}
	if snapshot.Error != nil {
		resp.Error = snapshot.Error.Error()
	}
	return resp
}

// GetRun returns a copy of the state of a run
func (m *Manager) GetRun(id string) (*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.runs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return state.Clone(), nil
}

// ListRuns returns copies of all known runs, newest first
func (m *Manager) ListRuns() []*RunState {
	m.mu.RLock()
	runs := make([]*RunState, 0, len(m.runs))
	for _, state := range m.runs {
		runs = append(runs, state.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartTime.After(runs[j].StartTime) })
	return runs
}

// CancelRun cancels an active run
func (m *Manager) CancelRun(id string) error {
	m.mu.RLock()
	state, exists := m.runs[id]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if state.IsTerminal() {
		return NewValidationError("", fmt.Sprintf("run %s already finished", id))
	}

	state.Cancel()
	m.logger.Info("run_cancelled", slog.String("run_id", id))
	return nil
}

// PruneRuns forgets finished runs that ended more than maxAge ago
func (m *Manager) PruneRuns(maxAge time.Duration) int {
	m.mu.Lock()
	removed := 0
	now := time.Now()
	for id, state := range m.runs {
		snapshot := state.Clone()
		if snapshot.EndTime != nil && now.Sub(*snapshot.EndTime) > maxAge {
			delete(m.runs, id)
			removed++
		}
	}
	m.mu.Unlock()

	m.broadcaster.CleanupOldRuns(maxAge)
	return removed
}

// Close stops the status broadcaster
func (m *Manager) Close() {
	m.broadcaster.Stop()
}
