package operations_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"eduetl/internal/operations"
)

func TestRunStateTransitions(t *testing.T) {
	state := operations.NewRunState("r1", operations.ModeRun)
	assert.Equal(t, operations.RunStatusPending, state.GetStatus())
	assert.False(t, state.IsTerminal())

	state.Start()
	state.SetStep("ingest-2022", operations.NewStepState("ingest-2022", "Ingest 2022"))
	state.ReportProgress("ingest-2022", 40, "extracting")
	assert.Equal(t, 40.0, state.GetStep("ingest-2022").Progress)

	state.Cancel()
	state.Fail(errors.New("context canceled"))
	assert.Equal(t, operations.RunStatusCancelled, state.GetStatus(), "fail keeps a cancelled run cancelled")
	assert.True(t, state.IsTerminal())

	clone := state.Clone()
	clone.Steps["ingest-2022"].Status = operations.StepStatusFailed
	assert.Equal(t, operations.StepStatusPending, state.GetStep("ingest-2022").GetStatus())
}

func TestStepStateAttempts(t *testing.T) {
	st := operations.NewStepState("ingest-2022", "Ingest 2022")
	st.Start()
	st.Fail(errors.New("503"))
	st.Start()
	st.Complete()

	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, operations.StepStatusCompleted, st.GetStatus())
	assert.Equal(t, 100.0, st.Progress)
}

func TestIngestStepID(t *testing.T) {
	assert.Equal(t, "ingest-2019", operations.IngestStepID(2019))

	year, ok := operations.IngestYear("ingest-2019")
	assert.True(t, ok)
	assert.Equal(t, 2019, year)

	_, ok = operations.IngestYear("transform")
	assert.False(t, ok)
	_, ok = operations.IngestYear("ingest-latest")
	assert.False(t, ok)
}

func TestOperationErrors(t *testing.T) {
	cause := errors.New("status 503")
	err := operations.NewExecutionError("ingest-2022", cause, true)

	assert.True(t, operations.IsRetryable(err))
	assert.True(t, operations.IsRetryable(fmt.Errorf("wrapped: %w", err)))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[execution] ingest-2022: step execution failed: status 503", err.Error())

	assert.False(t, operations.IsRetryable(cause))
	assert.Equal(t, operations.ErrorTypeExecution, operations.GetErrorType(cause))
	assert.Equal(t, operations.ErrorTypeTimeout, operations.GetErrorType(operations.NewTimeoutError("load", "1m")))

	wrapped := operations.WrapError(cause, "load", "load failed")
	assert.Equal(t, "load", wrapped.Step)
	assert.Nil(t, operations.WrapError(nil, "load", "x"))
}

func TestConfigStepTimeouts(t *testing.T) {
	cfg := operations.NewConfig()
	assert.Equal(t, operations.DefaultIngestTimeout, cfg.GetStepTimeout("ingest-2018"))
	assert.Equal(t, operations.DefaultTransformTimeout, cfg.GetStepTimeout(operations.StepIDTransform))
	assert.Equal(t, operations.DefaultStepTimeout, cfg.GetStepTimeout("other"))

	cfg.SetStepTimeout("ingest-2018", 1)
	assert.EqualValues(t, 1, cfg.GetStepTimeout("ingest-2018"))
	assert.Equal(t, operations.DefaultIngestTimeout, cfg.GetStepTimeout("ingest-2019"))
}

func TestRunRequestValidate(t *testing.T) {
	for _, mode := range []string{operations.ModeRun, operations.ModeIngest, operations.ModeTransform} {
		assert.NoError(t, operations.RunRequest{Mode: mode}.Validate())
	}
	assert.Error(t, operations.RunRequest{Mode: ""}.Validate())
}
