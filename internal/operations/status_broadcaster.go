package operations

import (
	"log/slog"
	"time"
)

// StatusBroadcaster serializes run status updates and pushes a complete
// snapshot to the hub after each one.
type StatusBroadcaster struct {
	runs    map[string]*RunSnapshot
	hub     WebSocketHub
	logger  *slog.Logger
	updates chan updateRequest
	stop    chan struct{}
}

// RunSnapshot is the state of a run sent to watchers
type RunSnapshot struct {
	RunID       string         `json:"run_id"`
	Mode        string         `json:"mode"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"current_step,omitempty"`
	Steps       []StepSnapshot `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// StepSnapshot is the state of one step inside a RunSnapshot
type StepSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

type updateRequest struct {
	runID      string
	updateFunc func(*RunSnapshot)
	inspect    func(map[string]*RunSnapshot)
	done       chan *RunSnapshot
}

// NewStatusBroadcaster creates a broadcaster. A nil hub only keeps snapshots.
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	sb := &StatusBroadcaster{
		runs:    make(map[string]*RunSnapshot),
		hub:     hub,
		logger:  logger.With(slog.String("component", "status_broadcaster")),
		updates: make(chan updateRequest, 100),
		stop:    make(chan struct{}),
	}
	go sb.processUpdates()
	return sb
}

func (sb *StatusBroadcaster) processUpdates() {
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			if req.inspect != nil {
				req.inspect(sb.runs)
				req.done <- nil
				continue
			}
			req.done <- sb.handleUpdate(req)
		}
	}
}

func (sb *StatusBroadcaster) handleUpdate(req updateRequest) *RunSnapshot {
	snapshot, exists := sb.runs[req.runID]
	if !exists {
		now := time.Now()
		snapshot = &RunSnapshot{
			RunID:     req.runID,
			Status:    string(RunStatusPending),
			StartedAt: now,
		}
		sb.runs[req.runID] = snapshot
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = time.Now()

	if len(snapshot.Steps) > 0 {
		total := 0
		for _, step := range snapshot.Steps {
			total += step.Progress
		}
		snapshot.Progress = total / len(snapshot.Steps)
	}

	switch RunStatus(snapshot.Status) {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		if snapshot.CompletedAt == nil {
			now := time.Now()
			snapshot.CompletedAt = &now
		}
	}

	out := snapshot.copy()
	if sb.hub != nil {
		sb.hub.BroadcastUpdate(EventTypeRunSnapshot, out.RunID, out.Status, out)
	}
	return out
}

func (s *RunSnapshot) copy() *RunSnapshot {
	c := *s
	c.Steps = append([]StepSnapshot(nil), s.Steps...)
	return &c
}

// UpdateStatus applies updateFunc to the snapshot of runID and returns
// the resulting snapshot. Updates are applied one at a time.
func (sb *StatusBroadcaster) UpdateStatus(runID string, updateFunc func(*RunSnapshot)) *RunSnapshot {
	req := updateRequest{
		runID:      runID,
		updateFunc: updateFunc,
		done:       make(chan *RunSnapshot, 1),
	}
	select {
	case sb.updates <- req:
		return <-req.done
	case <-sb.stop:
		return nil
	}
}

// CreateRun initializes a run with the given steps in execution order
func (sb *StatusBroadcaster) CreateRun(runID, mode string, steps []Step) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		s.Mode = mode
		s.Status = string(RunStatusPending)
		s.Steps = make([]StepSnapshot, len(steps))
		for i, step := range steps {
			s.Steps[i] = StepSnapshot{ID: step.ID(), Name: step.Name(), Status: string(StepStatusPending)}
		}
		s.Message = "Run created"
	})
}

// StartRun marks a run as running
func (sb *StatusBroadcaster) StartRun(runID string) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusRunning)
		s.Message = "Run started"
	})
}

// UpdateStep sets the status, progress and message of one step. Progress
// never moves backwards while the step is active.
func (sb *StatusBroadcaster) UpdateStep(runID, stepID string, status StepStatus, progress int, message string) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		for i := range s.Steps {
			step := &s.Steps[i]
			if step.ID != stepID {
				continue
			}
			if status != StepStatusActive || progress >= step.Progress || step.Status != string(StepStatusActive) {
				step.Progress = clamp(progress, 0, 100)
			}
			step.Status = string(status)
			step.Message = message
			if status == StepStatusActive {
				s.CurrentStep = step.Name
			}
			return
		}
	})
}

// FailStep marks a step as failed
func (sb *StatusBroadcaster) FailStep(runID, stepID string, err error) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		for i := range s.Steps {
			if s.Steps[i].ID == stepID {
				s.Steps[i].Status = string(StepStatusFailed)
				s.Steps[i].Error = err.Error()
				return
			}
		}
	})
}

// CompleteRun marks a run as completed
func (sb *StatusBroadcaster) CompleteRun(runID string, message string) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusCompleted)
		s.CurrentStep = ""
		s.Message = message
	})
}

// FailRun marks a run as failed
func (sb *StatusBroadcaster) FailRun(runID string, err error) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		if s.Status != string(RunStatusCancelled) {
			s.Status = string(RunStatusFailed)
		}
		s.Error = err.Error()
		s.CurrentStep = ""
	})
}

// CancelRun marks a run as cancelled
func (sb *StatusBroadcaster) CancelRun(runID string) {
	sb.UpdateStatus(runID, func(s *RunSnapshot) {
		s.Status = string(RunStatusCancelled)
		s.CurrentStep = ""
		s.Message = "Run cancelled by user"
	})
}

// GetSnapshot returns the current snapshot of a run
func (sb *StatusBroadcaster) GetSnapshot(runID string) (*RunSnapshot, bool) {
	var found *RunSnapshot
	sb.inspect(func(runs map[string]*RunSnapshot) {
		if s, ok := runs[runID]; ok {
			found = s.copy()
		}
	})
	return found, found != nil
}

// GetAllSnapshots returns all current snapshots
func (sb *StatusBroadcaster) GetAllSnapshots() []*RunSnapshot {
	var out []*RunSnapshot
	sb.inspect(func(runs map[string]*RunSnapshot) {
		for _, s := range runs {
			out = append(out, s.copy())
		}
	})
	return out
}

// CleanupOldRuns forgets finished runs older than maxAge
func (sb *StatusBroadcaster) CleanupOldRuns(maxAge time.Duration) int {
	removed := 0
	sb.inspect(func(runs map[string]*RunSnapshot) {
		now := time.Now()
		for id, s := range runs {
			if s.CompletedAt != nil && now.Sub(*s.CompletedAt) > maxAge {
				delete(runs, id)
				removed++
			}
		}
	})
	if removed > 0 {
		sb.logger.Info("Cleaned up old runs", slog.Int("removed", removed))
	}
	return removed
}

// inspect runs fn on the processing goroutine so that reads never race
// with updates.
func (sb *StatusBroadcaster) inspect(fn func(map[string]*RunSnapshot)) {
	req := updateRequest{inspect: fn, done: make(chan *RunSnapshot, 1)}
	select {
	case sb.updates <- req:
		<-req.done
	case <-sb.stop:
	}
}

// Stop shuts down the processing goroutine
func (sb *StatusBroadcaster) Stop() {
	close(sb.stop)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
