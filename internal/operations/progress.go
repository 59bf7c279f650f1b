package operations

import (
	"sync"
	"time"
)

// ProgressTracker counts the phases of a step as they finish
type ProgressTracker struct {
	mu        sync.Mutex
	step      string
	total     int
	current   int
	startTime time.Time
	message   string
}

// NewProgressTracker creates a tracker for a step with total phases
func NewProgressTracker(step string, total int) *ProgressTracker {
	return &ProgressTracker{
		step:      step,
		total:     total,
		startTime: time.Now(),
	}
}

// Increment marks one more phase as done
func (p *ProgressTracker) Increment(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current < p.total {
		p.current++
	}
	p.message = message
}

// Percent returns the share of finished phases, 0 to 100
func (p *ProgressTracker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total <= 0 {
		return 0
	}
	return p.current * 100 / p.total
}

// Report increments the tracker and forwards the new percentage to state.
func (p *ProgressTracker) Report(state *RunState, message string) {
	p.Increment(message)
	state.ReportProgress(p.step, p.Percent(), message)
}

// Elapsed returns the time since the tracker was created
func (p *ProgressTracker) Elapsed() time.Duration {
	return time.Since(p.startTime)
}
