package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/services"
)

type fakeHealth struct {
	status services.HealthStatus
}

func (f fakeHealth) HealthCheck(context.Context) services.HealthStatus {
	return f.status
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantStatus int
	}{
		{"ok", "ok", http.StatusOK},
		{"degraded", "degraded", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(fakeHealth{status: services.HealthStatus{
				Status:   tt.status,
				Services: map[string]services.ServiceHealth{"staging": {Status: "ok"}},
			}}, nil)

			rec := httptest.NewRecorder()
			h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body services.HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
		})
	}
}

func TestLivenessCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(fakeHealth{}, nil).LivenessCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
