package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "eduetl/internal/errors"
	"eduetl/internal/middleware"
	"eduetl/internal/operations"
	"eduetl/internal/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StartRunRequest is the body of POST /api/runs. An empty mode means a
// full run; empty years means every configured year.
type StartRunRequest struct {
	ID    string `json:"id,omitempty" validate:"omitempty,runid"`
	Mode  string `json:"mode,omitempty" validate:"omitempty,oneof=run ingest transform"`
	Years []int  `json:"years,omitempty" validate:"omitempty,unique,dive,gte=2000,lte=2099"`
}

// RunResponse is the API view of a run
type RunResponse struct {
	ID        string                           `json:"id"`
	Mode      string                           `json:"mode"`
	Status    operations.RunStatus             `json:"status"`
	StartTime time.Time                        `json:"start_time"`
	EndTime   *time.Time                       `json:"end_time,omitempty"`
	Duration  string                           `json:"duration,omitempty"`
	Progress  *int                             `json:"progress,omitempty"`
	Steps     map[string]*operations.StepState `json:"steps"`
	Error     string                           `json:"error,omitempty"`
}

// Render implements render.Renderer
func (rr *RunResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// RunListResponse wraps GET /api/runs
type RunListResponse struct {
	Runs  []*RunResponse `json:"runs"`
	Total int            `json:"total"`
}

// RunsHandler serves the run endpoints
type RunsHandler struct {
	service   RunService
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewRunsHandler creates a run handler. Service sentinel errors are mapped
// onto the matching API errors.
func NewRunsHandler(service RunService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	MapServiceErrors(errorHandler)

	return &RunsHandler{
		service:   service,
		validator: middleware.NewValidator(logger),
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "runs")),
	}
}

// MapServiceErrors registers the service sentinels on h
func MapServiceErrors(h *apierrors.ErrorHandler) {
	h.Map(services.ErrInvalidInput, apierrors.ErrValidationFailed).
		Map(services.ErrRunNotFound, apierrors.ErrRunNotFound).
		Map(services.ErrRunNotRunning, apierrors.ErrRunNotRunning).
		Map(services.ErrServiceUnavailable, apierrors.ErrServiceUnavailable)
}

// Routes returns the run routes, mounted under /api/runs
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.ContentTypeValidator("application/json")).Post("/", h.StartRun)
	r.Get("/", h.ListRuns)
	r.Get("/{id}", h.GetRun)
	r.Delete("/{id}", h.CancelRun)
	return r
}

// StartRun handles POST /api/runs
func (h *RunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRunRequest
	if err := h.validator.DecodeJSON(r, &body); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	req := operations.RunRequest{ID: body.ID, Mode: body.Mode, Years: body.Years}
	if req.Mode == "" {
		req.Mode = operations.ModeRun
	}

	state, err := h.service.Start(r.Context(), req)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Run accepted",
		slog.String("run_id", state.ID),
		slog.String("mode", state.Mode),
		slog.String("request_id", middleware.GetRequestID(r.Context())))

	w.Header().Set("Location", "/api/runs/"+state.ID)
	render.Status(r, http.StatusAccepted)
	render.Render(w, r, h.toResponse(state))
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.Render(w, r, h.toResponse(state))
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			h.errors.HandleError(w, r, apierrors.ErrValidation("limit", "limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	status := operations.RunStatus(r.URL.Query().Get("status"))
	switch status {
	case "", operations.RunStatusPending, operations.RunStatusRunning, operations.RunStatusCompleted,
		operations.RunStatusFailed, operations.RunStatusCancelled:
	default:
		h.errors.HandleError(w, r, apierrors.ErrValidation("status", "unknown run status"))
		return
	}

	runs := h.service.ListRuns(r.Context())
	out := make([]*RunResponse, 0, len(runs))
	for _, state := range runs {
		if status != "" && state.Status != status {
			continue
		}
		out = append(out, h.toResponse(state))
	}
	total := len(out)
	if len(out) > limit {
		out = out[:limit]
	}

	render.JSON(w, r, RunListResponse{Runs: out, Total: total})
}

// CancelRun handles DELETE /api/runs/{id}
func (h *RunsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.CancelRun(r.Context(), id); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"id": id, "status": "cancelling"})
}

func (h *RunsHandler) toResponse(state *operations.RunState) *RunResponse {
	resp := &RunResponse{
		ID:        state.ID,
		Mode:      state.Mode,
		Status:    state.Status,
		StartTime: state.StartTime,
		EndTime:   state.EndTime,
		Steps:     state.Steps,
	}
	if state.EndTime != nil {
		resp.Duration = state.EndTime.Sub(state.StartTime).Round(time.Millisecond).String()
	}
	if state.Error != nil {
		resp.Error = state.Error.Error()
	}
	if snap, ok := h.service.Snapshot(state.ID); ok {
		progress := snap.Progress
		resp.Progress = &progress
	}
	return resp
}
