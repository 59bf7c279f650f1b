package operations

import (
	"sync"
	"time"
)

// RunStatus represents the overall run status enum
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ProgressFunc receives progress reported by a step.
type ProgressFunc func(stepID string, progress int, message string)

// RunState represents the complete state of a run
type RunState struct {
	mu sync.RWMutex

	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	Status    RunStatus  `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Steps map[string]*StepState `json:"steps"`

	// Context passes data between steps
	Context map[string]interface{} `json:"-"`

	Error error `json:"-"`

	progress ProgressFunc
	cancel   func()
}

// NewRunState creates a new run state
func NewRunState(id, mode string) *RunState {
	return &RunState{
		ID:        id,
		Mode:      mode,
		Status:    RunStatusPending,
		StartTime: time.Now(),
		Steps:     make(map[string]*StepState),
		Context:   make(map[string]interface{}),
	}
}

// Start marks the run as running
func (r *RunState) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunStatusRunning
	r.StartTime = time.Now()
}

// Complete marks the run as completed
func (r *RunState) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.EndTime = &now
	r.Status = RunStatusCompleted
}

// Fail marks the run as failed. A cancelled run stays cancelled.
func (r *RunState) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.EndTime = &now
	if r.Status != RunStatusCancelled {
		r.Status = RunStatusFailed
	}
	r.Error = err
}

// Cancel marks the run as cancelled and stops its context.
func (r *RunState) Cancel() {
	r.mu.Lock()
	now := time.Now()
	r.EndTime = &now
	r.Status = RunStatusCancelled
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// GetStatus returns the current run status
func (r *RunState) GetStatus() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// IsTerminal reports whether the run has finished.
func (r *RunState) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// GetStep returns the state of a specific step
func (r *RunState) GetStep(stepID string) *StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Steps[stepID]
}

// SetStep updates the state of a specific step
func (r *RunState) SetStep(stepID string, state *StepState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps[stepID] = state
}

// GetContext retrieves a value from the run context
func (r *RunState) GetContext(key string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.Context[key]
	return val, ok
}

// SetContext sets a value in the run context
func (r *RunState) SetContext(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Context[key] = value
}

// ReportProgress forwards step progress to whoever watches the run.
func (r *RunState) ReportProgress(stepID string, progress int, message string) {
	if st := r.GetStep(stepID); st != nil {
		st.UpdateProgress(float64(progress), message)
	}
	r.mu.RLock()
	fn := r.progress
	r.mu.RUnlock()
	if fn != nil {
		fn(stepID, progress, message)
	}
}

// Duration returns the duration of the run
func (r *RunState) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

// GetFailedSteps returns all failed steps
func (r *RunState) GetFailedSteps() []*StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var failed []*StepState
	for _, st := range r.Steps {
		if st.GetStatus() == StepStatusFailed {
			failed = append(failed, st)
		}
	}
	return failed
}

// Clone creates a deep copy of the run state without its context values.
func (r *RunState) Clone() *RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &RunState{
		ID:        r.ID,
		Mode:      r.Mode,
		Status:    r.Status,
		StartTime: r.StartTime,
		Steps:     make(map[string]*StepState, len(r.Steps)),
		Context:   make(map[string]interface{}),
		Error:     r.Error,
	}
	if r.EndTime != nil {
		end := *r.EndTime
		clone.EndTime = &end
	}
	for k, v := range r.Steps {
		clone.Steps[k] = v.Clone()
	}
	return clone
}
