package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/config"
	"eduetl/internal/dataprocessing"
	"eduetl/internal/operations"
	optestutil "eduetl/internal/operations/testutil"
	"eduetl/internal/services"
	"eduetl/internal/shared/testutil"
	handlers "eduetl/internal/transport/http"
	ws "eduetl/internal/websocket"
	"eduetl/pkg/contracts/domain"
)

func subjectTables(year int, ela, math, science string) []dataprocessing.SubjectTable {
	rows := testutil.CountyRows("ALBANY County", year, ela, math, science)
	var tables []dataprocessing.SubjectTable
	for _, subject := range []string{"ELA", "Math", "Science"} {
		r := rows[subject]
		tables = append(tables, dataprocessing.SubjectTable{
			Subject: subject,
			Records: []domain.RawRecord{{
				EntityName:        r.Entity,
				Year:              r.Year,
				AssessmentName:    r.Assessment,
				SubgroupName:      r.Subgroup,
				PercentProficient: r.PerProf,
			}},
		})
	}
	return tables
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.Years = []int{2022, 2018}
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Telemetry.MetricExporter = "none"
	cfg.Server.RateLimitRPS = 0
	if mutate != nil {
		mutate(cfg)
	}

	logger, _ := testutil.NewTestLogger(t)
	a, err := NewApplication(context.Background(), cfg, Options{
		Logger: logger,
		Pipeline: services.PipelineOptions{
			Extractor: &optestutil.FakeExtractor{Tables: map[int][]dataprocessing.SubjectTable{
				2018: subjectTables(2018, "40", "50", "60"),
				2022: subjectTables(2022, "45", "56", "70"),
			}},
			Runner: operations.NewConfigBuilder().
				WithRetryConfig(operations.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}).
				Build(),
		},
	})
	require.NoError(t, err)
	a.WebSocketHub.Start()
	t.Cleanup(func() { a.Stop(context.Background()) })
	return a
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	var hello ws.Message
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, ws.TypeConnection, hello.Type)

	resp, err := http.Post(srv.URL+"/api/runs", "application/json", bytes.NewBufferString(`{"id":"it-1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var run handlers.RunResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/runs/it-1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if json.NewDecoder(resp.Body).Decode(&run) != nil {
			return false
		}
		return run.Status == operations.RunStatusCompleted || run.Status == operations.RunStatusFailed
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, operations.RunStatusCompleted, run.Status, run.Error)
	assert.Contains(t, run.Steps, "load")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event ws.Message
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, ws.TypeRunSnapshot, event.Type)
	assert.Equal(t, "it-1", event.RunID)
}

func TestRouterErrorsAreProblems(t *testing.T) {
	a := newTestApp(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"unknown route", http.MethodGet, "/api/nothing", http.StatusNotFound},
		{"unknown run", http.MethodGet, "/api/runs/ghost", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/runs/", http.StatusMethodNotAllowed},
		{"health", http.MethodGet, "/api/health", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			if tt.wantStatus >= 400 {
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSchedulerOnlyWithCron(t *testing.T) {
	assert.Nil(t, newTestApp(t, nil).Scheduler)

	a := newTestApp(t, func(cfg *config.Config) { cfg.Schedule.Cron = "0 3 * * *" })
	require.NotNil(t, a.Scheduler)
}

func TestInvalidCronFailsStartup(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Telemetry.MetricExporter = "none"
	cfg.Schedule.Cron = "every night"

	_, err := NewApplication(context.Background(), cfg, Options{})
	assert.ErrorContains(t, err, "scheduler")
}
