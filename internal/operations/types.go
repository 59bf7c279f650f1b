package operations

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Step identifiers. Ingest steps carry the processing year as a suffix.
const (
	StepIDIngestPrefix = "ingest-"
	StepIDTransform    = "transform"
	StepIDLoad         = "load"
)

// Step names
const (
	StepNameIngest    = "Ingest %d"
	StepNameTransform = "Wide Transform"
	StepNameLoad      = "Warehouse Load"
)

// Run modes select which registered steps a run executes.
const (
	ModeRun       = "run"
	ModeIngest    = "ingest"
	ModeTransform = "transform"
)

// Context keys for values passed between steps
const (
	ContextKeyRelations = "relations"
)

// WebSocket event types
const (
	EventTypeRunSnapshot = "run:snapshot"
)

// Default timeouts
const (
	DefaultStepTimeout      = 30 * time.Minute
	DefaultIngestTimeout    = 60 * time.Minute
	DefaultTransformTimeout = 15 * time.Minute
	DefaultLoadTimeout      = 15 * time.Minute
)

// IngestStepID returns the step id of year's ingest.
func IngestStepID(year int) string {
	return StepIDIngestPrefix + strconv.Itoa(year)
}

// IngestYear parses the year out of an ingest step id.
func IngestYear(stepID string) (int, bool) {
	rest, ok := strings.CutPrefix(stepID, StepIDIngestPrefix)
	if !ok {
		return 0, false
	}
	year, err := strconv.Atoi(rest)
	return year, err == nil
}

// ExecutionMode defines how steps are executed
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// RetryConfig defines retry behavior for steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 30 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// RunRequest asks for one run. An empty ID is generated; Years narrows
// an ingest run to a subset of the configured years.
type RunRequest struct {
	ID    string `json:"id,omitempty"`
	Mode  string `json:"mode"`
	Years []int  `json:"years,omitempty"`
}

// Validate checks the mode.
func (r RunRequest) Validate() error {
	switch r.Mode {
	case ModeRun, ModeIngest, ModeTransform:
		return nil
	default:
		return fmt.Errorf("unknown run mode %q", r.Mode)
	}
}

// RunResponse summarizes a finished run
type RunResponse struct {
	ID       string                `json:"id"`
	Mode     string                `json:"mode"`
	Status   RunStatus             `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`
}
