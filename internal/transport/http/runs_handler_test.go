package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "eduetl/internal/errors"
	"eduetl/internal/operations"
	"eduetl/internal/services"
)

type fakeRunService struct {
	mu       sync.Mutex
	runs     map[string]*operations.RunState
	started  []operations.RunRequest
	startErr error
}

func newFakeRunService() *fakeRunService {
	return &fakeRunService{runs: make(map[string]*operations.RunState)}
}

func (f *fakeRunService) add(id string, status operations.RunStatus, started time.Time) {
	state := operations.NewRunState(id, operations.ModeRun)
	state.Status = status
	state.StartTime = started
	if status == operations.RunStatusCompleted {
		end := started.Add(90 * time.Second)
		state.EndTime = &end
	}
	f.runs[id] = state
}

func (f *fakeRunService) Start(ctx context.Context, req operations.RunRequest) (*operations.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("run-%d", len(f.started))
	}
	state := operations.NewRunState(id, req.Mode)
	f.runs[id] = state
	return state, nil
}

func (f *fakeRunService) GetRun(ctx context.Context, id string) (*operations.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrRunNotFound, id)
	}
	return state, nil
}

func (f *fakeRunService) ListRuns(ctx context.Context) []*operations.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*operations.RunState, 0, len(f.runs))
	for _, s := range f.runs {
		out = append(out, s)
	}
	return out
}

func (f *fakeRunService) CancelRun(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.runs[id]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", services.ErrRunNotFound, id)
	case state.Status != operations.RunStatusRunning:
		return fmt.Errorf("%w: run %s already finished", services.ErrRunNotRunning, id)
	}
	state.Status = operations.RunStatusCancelled
	return nil
}

func (f *fakeRunService) Snapshot(id string) (*operations.RunSnapshot, bool) {
	if id == "run-live" {
		return &operations.RunSnapshot{RunID: id, Progress: 40}, true
	}
	return nil, false
}

func newTestRouter(svc RunService) http.Handler {
	h := NewRunsHandler(svc, apierrors.NewErrorHandler(nil, false), nil)
	r := chi.NewRouter()
	r.Mount("/api/runs", h.Routes())
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartRun(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMode   string
		wantYears  []int
	}{
		{"empty body is a full run", "", http.StatusAccepted, operations.ModeRun, nil},
		{"ingest subset", `{"mode":"ingest","years":[2022,2021]}`, http.StatusAccepted, operations.ModeIngest, []int{2022, 2021}},
		{"transform", `{"mode":"transform","id":"nightly-1"}`, http.StatusAccepted, operations.ModeTransform, nil},
		{"bad mode", `{"mode":"backfill"}`, http.StatusBadRequest, "", nil},
		{"duplicate years", `{"years":[2022,2022]}`, http.StatusBadRequest, "", nil},
		{"malformed", `{"mode":`, http.StatusBadRequest, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeRunService()
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/runs", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusAccepted {
				assert.Empty(t, svc.started)
				return
			}
			require.Len(t, svc.started, 1)
			assert.Equal(t, tt.wantMode, svc.started[0].Mode)
			assert.Equal(t, tt.wantYears, svc.started[0].Years)

			var resp RunResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "/api/runs/"+resp.ID, rec.Header().Get("Location"))
		})
	}
}

func TestStartRunServiceRejects(t *testing.T) {
	svc := newFakeRunService()
	svc.startErr = fmt.Errorf("%w: year 2017 is not configured", services.ErrInvalidInput)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/runs", `{"years":[2017]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "2017")
}

func TestGetRun(t *testing.T) {
	svc := newFakeRunService()
	svc.add("run-done", operations.RunStatusCompleted, time.Now().Add(-time.Hour))
	svc.add("run-live", operations.RunStatusRunning, time.Now())
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/runs/run-done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var done RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, operations.RunStatusCompleted, done.Status)
	assert.Equal(t, "1m30s", done.Duration)
	assert.Nil(t, done.Progress)

	rec = do(t, router, http.MethodGet, "/api/runs/run-live", "")
	var live RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	require.NotNil(t, live.Progress)
	assert.Equal(t, 40, *live.Progress)

	rec = do(t, router, http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), apierrors.TypeRunNotFound)
}

func TestListRuns(t *testing.T) {
	svc := newFakeRunService()
	now := time.Now()
	svc.add("a", operations.RunStatusCompleted, now.Add(-2*time.Hour))
	svc.add("b", operations.RunStatusRunning, now.Add(-time.Hour))
	svc.add("c", operations.RunStatusCompleted, now)
	router := newTestRouter(svc)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLen    int
		wantTotal  int
	}{
		{"all", "", http.StatusOK, 3, 3},
		{"by status", "?status=completed", http.StatusOK, 2, 2},
		{"limited", "?limit=1", http.StatusOK, 1, 3},
		{"bad limit", "?limit=0", http.StatusBadRequest, 0, 0},
		{"bad status", "?status=exploded", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/runs"+tt.query, "")
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp RunListResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Len(t, resp.Runs, tt.wantLen)
			assert.Equal(t, tt.wantTotal, resp.Total)
		})
	}
}

func TestCancelRun(t *testing.T) {
	svc := newFakeRunService()
	svc.add("run-live", operations.RunStatusRunning, time.Now())
	svc.add("run-done", operations.RunStatusCompleted, time.Now())
	router := newTestRouter(svc)

	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodDelete, "/api/runs/run-live", "").Code)
	assert.Equal(t, operations.RunStatusCancelled, svc.runs["run-live"].Status)

	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodDelete, "/api/runs/run-done", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/runs/ghost", "").Code)
}
