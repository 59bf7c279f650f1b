package operations_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/operations"
	"eduetl/internal/operations/testutil"
	sharedtestutil "eduetl/internal/shared/testutil"
)

func fastRetry() operations.RetryConfig {
	return operations.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newManager(t *testing.T, mode operations.ExecutionMode, steps ...operations.Step) (*operations.Manager, *testutil.MockWebSocketHub) {
	t.Helper()
	logger, _ := sharedtestutil.NewTestLogger(t)
	hub := &testutil.MockWebSocketHub{}
	cfg := operations.NewConfigBuilder().
		WithExecutionMode(mode).
		WithRetryConfig(fastRetry()).
		WithMaxConcurrency(2).
		WithContinueOnError(true).
		Build()

	m := operations.NewManager(hub, nil, cfg, logger, nil)
	t.Cleanup(m.Close)
	for _, s := range steps {
		require.NoError(t, m.RegisterStep(s))
	}
	return m, hub
}

func TestManagerExecuteRun(t *testing.T) {
	for _, mode := range []operations.ExecutionMode{operations.ExecutionModeSequential, operations.ExecutionModeParallel} {
		t.Run(string(mode), func(t *testing.T) {
			i22 := testutil.NewMockStep("ingest-2022")
			i18 := testutil.NewMockStep("ingest-2018")
			tr := testutil.NewMockStep("transform", "ingest-2022", "ingest-2018")
			ld := testutil.NewMockStep("load", "transform")
			m, hub := newManager(t, mode, i22, i18, tr, ld)

			resp, err := m.Execute(context.Background(), operations.RunRequest{ID: "r1", Mode: operations.ModeRun})
			require.NoError(t, err)

			assert.Equal(t, operations.RunStatusCompleted, resp.Status)
			assert.Len(t, resp.Steps, 4)
			for id, st := range resp.Steps {
				assert.Equal(t, operations.StepStatusCompleted, st.Status, id)
			}
			assert.False(t, tr.FirstStart().Before(i22.FirstStart()))
			assert.False(t, tr.FirstStart().Before(i18.FirstStart()))
			assert.False(t, ld.FirstStart().Before(tr.FirstStart()))
			assert.Equal(t, string(operations.RunStatusCompleted), hub.LastStatus())
		})
	}
}

func TestManagerParallelIngest(t *testing.T) {
	var running, peak int32
	block := func(ctx context.Context, _ *operations.RunState) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	var steps []operations.Step
	for _, id := range []string{"ingest-2022", "ingest-2021", "ingest-2019", "ingest-2018"} {
		s := testutil.NewMockStep(id)
		s.ExecuteFunc = block
		steps = append(steps, s)
	}
	m, _ := newManager(t, operations.ExecutionModeParallel, steps...)

	_, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeIngest})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak), "MaxConcurrency bounds the wave")
}

func TestManagerSelectSteps(t *testing.T) {
	m, _ := newManager(t, operations.ExecutionModeSequential,
		testutil.NewMockStep("ingest-2022"),
		testutil.NewMockStep("ingest-2018"),
		testutil.NewMockStep("transform", "ingest-2022", "ingest-2018"),
		testutil.NewMockStep("load", "transform"),
	)

	tests := []struct {
		name    string
		req     operations.RunRequest
		want    []string
		wantErr bool
	}{
		{"run", operations.RunRequest{Mode: operations.ModeRun}, []string{"ingest-2022", "ingest-2018", "transform", "load"}, false},
		{"ingest", operations.RunRequest{Mode: operations.ModeIngest}, []string{"ingest-2022", "ingest-2018"}, false},
		{"ingest one year", operations.RunRequest{Mode: operations.ModeIngest, Years: []int{2018}}, []string{"ingest-2018"}, false},
		{"ingest unknown year", operations.RunRequest{Mode: operations.ModeIngest, Years: []int{2020}}, nil, true},
		{"run one year", operations.RunRequest{Mode: operations.ModeRun, Years: []int{2018}}, []string{"ingest-2018", "transform", "load"}, false},
		{"run unknown year", operations.RunRequest{Mode: operations.ModeRun, Years: []int{2020}}, nil, true},
		{"transform", operations.RunRequest{Mode: operations.ModeTransform}, []string{"transform", "load"}, false},
		{"bad mode", operations.RunRequest{Mode: "backfill"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.SelectSteps(tt.req)
			if tt.wantErr {
				assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManagerRunSubsetOfYears(t *testing.T) {
	i22 := testutil.NewMockStep("ingest-2022")
	i18 := testutil.NewMockStep("ingest-2018")
	tr := testutil.NewMockStep("transform", "ingest-2022", "ingest-2018")
	ld := testutil.NewMockStep("load", "transform")
	m, _ := newManager(t, operations.ExecutionModeParallel, i22, i18, tr, ld)

	resp, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeRun, Years: []int{2022}})
	require.NoError(t, err)

	assert.Equal(t, operations.RunStatusCompleted, resp.Status)
	assert.Len(t, resp.Steps, 3)
	assert.NotContains(t, resp.Steps, "ingest-2018")
	assert.Zero(t, i18.ExecuteCalls())
	assert.Equal(t, 1, tr.ExecuteCalls())
}

func TestManagerRejectsDuplicateActiveRun(t *testing.T) {
	release := make(chan struct{})
	slow := testutil.NewMockStep("ingest-2022")
	slow.ExecuteFunc = func(ctx context.Context, _ *operations.RunState) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	m, _ := newManager(t, operations.ExecutionModeSequential, slow)
	defer close(release)

	_, err := m.Start(context.Background(), operations.RunRequest{ID: "nightly", Mode: operations.ModeIngest})
	require.NoError(t, err)

	_, err = m.Start(context.Background(), operations.RunRequest{ID: "nightly", Mode: operations.ModeIngest})
	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
	assert.Contains(t, err.Error(), "already active")

	_, err = m.Execute(context.Background(), operations.RunRequest{ID: "nightly", Mode: operations.ModeIngest})
	assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
}

func TestManagerTransformModeIgnoresIngestDependencies(t *testing.T) {
	ingest := testutil.NewMockStep("ingest-2022")
	tr := testutil.NewMockStep("transform", "ingest-2022")
	m, _ := newManager(t, operations.ExecutionModeParallel, ingest, tr)

	resp, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeTransform})
	require.NoError(t, err)
	assert.Equal(t, operations.RunStatusCompleted, resp.Status)
	assert.Zero(t, ingest.ExecuteCalls())
	assert.Equal(t, 1, tr.ExecuteCalls())
}

func TestManagerFailureSkipsDependents(t *testing.T) {
	for _, mode := range []operations.ExecutionMode{operations.ExecutionModeSequential, operations.ExecutionModeParallel} {
		t.Run(string(mode), func(t *testing.T) {
			boom := errors.New("archive is not a zip file")
			ok := testutil.NewMockStep("ingest-2022")
			bad := testutil.FailingStep("ingest-2018", operations.NewExecutionError("ingest-2018", boom, false))
			tr := testutil.NewMockStep("transform", "ingest-2022", "ingest-2018")
			ld := testutil.NewMockStep("load", "transform")
			m, hub := newManager(t, mode, ok, bad, tr, ld)

			resp, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeRun})
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			assert.Equal(t, operations.RunStatusFailed, resp.Status)
			assert.Equal(t, operations.StepStatusCompleted, resp.Steps["ingest-2022"].Status, "independent year still staged")
			assert.Equal(t, operations.StepStatusFailed, resp.Steps["ingest-2018"].Status)
			assert.Equal(t, operations.StepStatusSkipped, resp.Steps["transform"].Status)
			assert.Equal(t, operations.StepStatusSkipped, resp.Steps["load"].Status)
			assert.Zero(t, tr.ExecuteCalls())
			assert.Equal(t, 1, bad.ExecuteCalls(), "non-retryable errors are not retried")
			assert.Equal(t, string(operations.RunStatusFailed), hub.LastStatus())
		})
	}
}

func TestManagerRetriesRetryableErrors(t *testing.T) {
	var calls int32
	flaky := testutil.NewMockStep("ingest-2022")
	flaky.ExecuteFunc = func(context.Context, *operations.RunState) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return operations.NewExecutionError("ingest-2022", errors.New("503"), true)
		}
		return nil
	}
	m, _ := newManager(t, operations.ExecutionModeSequential, flaky)

	resp, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeIngest})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.ExecuteCalls())
	assert.Equal(t, 3, resp.Steps["ingest-2022"].Attempts)
}

func TestManagerRetriesExhausted(t *testing.T) {
	flaky := testutil.FailingStep("ingest-2022", operations.NewExecutionError("ingest-2022", errors.New("503"), true))
	m, _ := newManager(t, operations.ExecutionModeSequential, flaky)

	resp, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeIngest})
	require.Error(t, err)
	assert.Equal(t, 3, flaky.ExecuteCalls())
	assert.Equal(t, operations.StepStatusFailed, resp.Steps["ingest-2022"].Status)
}

func TestManagerStepTimeout(t *testing.T) {
	slow := testutil.NewMockStep("transform")
	slow.ExecuteFunc = func(ctx context.Context, _ *operations.RunState) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m, _ := newManager(t, operations.ExecutionModeSequential, slow)
	m.GetConfig().SetStepTimeout("transform", 10*time.Millisecond)

	_, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeTransform})
	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeTimeout, operations.GetErrorType(err))
}

func TestManagerValidationFailure(t *testing.T) {
	s := testutil.NewMockStep("load")
	s.ValidateFunc = func(*operations.RunState) error { return errors.New("no relations") }
	m, _ := newManager(t, operations.ExecutionModeSequential, s)

	resp, err := m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeTransform})
	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
	assert.Zero(t, s.ExecuteCalls())
	assert.Equal(t, operations.StepStatusFailed, resp.Steps["load"].Status)
}

func TestManagerStartAndCancel(t *testing.T) {
	started := make(chan struct{})
	s := testutil.NewMockStep("ingest-2022")
	s.ExecuteFunc = func(ctx context.Context, _ *operations.RunState) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	next := testutil.NewMockStep("transform", "ingest-2022")
	m, _ := newManager(t, operations.ExecutionModeSequential, s, next)

	state, err := m.Start(context.Background(), operations.RunRequest{ID: "bg", Mode: operations.ModeRun})
	require.NoError(t, err)
	assert.Equal(t, "bg", state.ID)

	<-started
	require.NoError(t, m.CancelRun("bg"))

	require.Eventually(t, func() bool {
		run, err := m.GetRun("bg")
		return err == nil && run.Steps["transform"].Status == operations.StepStatusSkipped
	}, time.Second, 5*time.Millisecond)

	run, err := m.GetRun("bg")
	require.NoError(t, err)
	assert.Equal(t, operations.RunStatusCancelled, run.Status)
	assert.Zero(t, next.ExecuteCalls())

	assert.Error(t, m.CancelRun("bg"), "finished runs cannot be cancelled")
}

func TestManagerRunLookup(t *testing.T) {
	m, _ := newManager(t, operations.ExecutionModeSequential, testutil.NewMockStep("ingest-2022"))

	_, err := m.GetRun("nope")
	assert.ErrorIs(t, err, operations.ErrRunNotFound)
	assert.ErrorIs(t, m.CancelRun("nope"), operations.ErrRunNotFound)

	_, err = m.Execute(context.Background(), operations.RunRequest{ID: "a", Mode: operations.ModeIngest})
	require.NoError(t, err)
	_, err = m.Execute(context.Background(), operations.RunRequest{Mode: operations.ModeIngest})
	require.NoError(t, err)

	runs := m.ListRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[1].ID, "newest first")

	assert.Equal(t, 0, m.PruneRuns(time.Hour))
	assert.Equal(t, 2, m.PruneRuns(0))
	assert.Empty(t, m.ListRuns())
}

func TestManagerProgressReachesHub(t *testing.T) {
	s := testutil.NewMockStep("ingest-2022")
	s.ExecuteFunc = func(_ context.Context, state *operations.RunState) error {
		state.ReportProgress("ingest-2022", 50, "halfway")
		return nil
	}
	m, hub := newManager(t, operations.ExecutionModeSequential, s)

	_, err := m.Execute(context.Background(), operations.RunRequest{ID: "p", Mode: operations.ModeIngest})
	require.NoError(t, err)

	var sawHalfway bool
	for _, msg := range hub.GetMessages() {
		assert.Equal(t, operations.EventTypeRunSnapshot, msg.EventType)
		snap, ok := msg.Metadata.(*operations.RunSnapshot)
		require.True(t, ok)
		if len(snap.Steps) == 1 && snap.Steps[0].Message == "halfway" {
			sawHalfway = true
			assert.Equal(t, 50, snap.Steps[0].Progress)
		}
	}
	assert.True(t, sawHalfway)
}
