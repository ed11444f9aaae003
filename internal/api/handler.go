// Package api exposes the pipeline over HTTP: trigger a run, read run
// history and report health.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/pkg/httputil"
	"github.com/ignite/conversion-sync/internal/secrets"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
	"github.com/ignite/conversion-sync/internal/snowflake"
)

// Runner is the pipeline surface the handlers need.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*domain.PipelineReport, error)
	Get(ctx context.Context, id string) (*domain.PipelineReport, error)
	List(ctx context.Context, limit int) ([]domain.PipelineReport, error)
}

type Handler struct {
	runner Runner
}

func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner}
}

// RunResponse is a report plus its wall time, the shape returned by every
// run endpoint.
type RunResponse struct {
	*domain.PipelineReport
	DurationMS int64 `json:"duration_ms"`
}

func newRunResponse(r *domain.PipelineReport) RunResponse {
	return RunResponse{PipelineReport: r, DurationMS: r.Duration().Milliseconds()}
}

// Routes returns the /v1 sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/runs", h.HandleRun)
	r.Get("/runs", h.HandleListRuns)
	r.Get("/runs/{id}", h.HandleGetRun)
	return r
}

func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.RunRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	report, err := h.runner.Run(r.Context(), req)
	if err != nil {
		writeRunError(w, report, err)
		return
	}
	httputil.OK(w, newRunResponse(report))
}

func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, pipeline.ErrNotFound) {
		httputil.NotFound(w, "run not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, newRunResponse(report))
}

func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.runner.List(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	out := make([]RunResponse, len(runs))
	for i := range runs {
		out[i] = newRunResponse(&runs[i])
	}
	httputil.OK(w, map[string]any{"runs": out, "count": len(out)})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// writeRunError maps a run failure to a status and code. Client-caused
// failures carry their message; anything else is reported generically.
// A report produced before the failure is attached as details.
func writeRunError(w http.ResponseWriter, report *domain.PipelineReport, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		httputil.InternalError(w, err)
		return
	}

	msg := err.Error()
	if status == http.StatusBadGateway {
		msg = "upload to the ad platform failed"
	}
	body := httputil.ErrorResponse{Error: msg, Code: code}
	if report != nil {
		body.Details = newRunResponse(report)
	}
	httputil.JSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest), errors.Is(err, snowflake.ErrInvalidIdentifier):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, conversions.ErrConfiguration):
		return http.StatusBadRequest, "invalid_configuration"
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress"
	case errors.Is(err, pipeline.ErrNoRows):
		return http.StatusUnprocessableEntity, "empty_source"
	case errors.Is(err, snowflake.ErrSchema):
		return http.StatusUnprocessableEntity, "invalid_schema"
	case errors.Is(err, secrets.ErrUnknownProject):
		return http.StatusUnprocessableEntity, "unknown_target"
	case errors.Is(err, conversions.ErrTransport):
		return http.StatusBadGateway, "upload_failed"
	}
	return http.StatusInternalServerError, ""
}
