package http

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ignatij/flowmetrics/pkg/metrics"
	"github.com/ignatij/flowmetrics/pkg/service"
)

const defaultSnapshotLimit = 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers serves the flowmetrics HTTP API. Sync may be nil when no n8n
// instance is configured.
type Handlers struct {
	Workflows *service.WorkflowService
	Metrics   *service.MetricsService
	Sync      *service.SyncService
	DB        Pinger
	Location  *time.Location

	validate *validator.Validate
}

type createWorkflowRequest struct {
	ID     string `json:"id" validate:"required,max=255"`
	Name   string `json:"name" validate:"required,max=100"`
	UserID string `json:"userId" validate:"max=255"`
}

type metricsRequest struct {
	Start  string `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End    string `json:"end" validate:"omitempty,datetime=2006-01-02"`
	UserID string `json:"userId" validate:"max=255"`
}

type snapshotsRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func (h *Handlers) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			body["status"] = "unhealthy"
			body["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.Workflows.ListWorkflows(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body", "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	wf, err := h.Workflows.CreateWorkflow(r.Context(), req.ID, req.Name, req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Workflows.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.Workflows.DeleteWorkflow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// metricsQuery parses and validates the window parameters shared by the
// metrics and snapshot endpoints. It writes the error response itself.
func (h *Handlers) metricsQuery(w http.ResponseWriter, r *http.Request) (service.MetricsQuery, bool) {
	q := r.URL.Query()
	req := metricsRequest{Start: q.Get("start"), End: q.Get("end"), UserID: q.Get("userId")}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return service.MetricsQuery{}, false
	}

	query := service.MetricsQuery{WorkflowID: chi.URLParam(r, "id"), UserID: req.UserID}
	switch {
	case req.Start == "" && req.End == "":
		return query, true
	case req.Start == "":
		writeError(w, http.StatusBadRequest, codeValidation, "start is required when end is set", "start")
		return service.MetricsQuery{}, false
	case req.End == "":
		writeError(w, http.StatusBadRequest, codeValidation, "end is required when start is set", "end")
		return service.MetricsQuery{}, false
	}

	win, err := metrics.ParseWindow(req.Start, req.End, h.location())
	if err != nil {
		writeServiceError(w, err)
		return service.MetricsQuery{}, false
	}
	query.Start, query.End = win.Start, win.End
	return query, true
}

func (h *Handlers) WorkflowMetrics(w http.ResponseWriter, r *http.Request) {
	query, ok := h.metricsQuery(w, r)
	if !ok {
		return
	}
	report, err := h.Metrics.WorkflowMetrics(r.Context(), query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	query, ok := h.metricsQuery(w, r)
	if !ok {
		return
	}
	snap, err := h.Metrics.TakeSnapshot(r.Context(), query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	req := snapshotsRequest{Limit: defaultSnapshotLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "limit must be an integer", "limit")
			return
		}
		req.Limit = n
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	snaps, err := h.Metrics.Snapshots(r.Context(), chi.URLParam(r, "id"), req.Limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (h *Handlers) syncDisabled(w http.ResponseWriter) bool {
	if h.Sync != nil {
		return false
	}
	writeError(w, http.StatusServiceUnavailable, codeUnavailable, "n8n sync is not configured", "")
	return true
}

func (h *Handlers) SyncWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.syncDisabled(w) {
		return
	}
	res, err := h.Sync.SyncWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type syncAllResponse struct {
	Results []service.SyncResult `json:"results"`
	Errors  map[string]string    `json:"errors"`
}

func (h *Handlers) SyncAll(w http.ResponseWriter, r *http.Request) {
	if h.syncDisabled(w) {
		return
	}
	results, errs, err := h.Sync.SyncAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := syncAllResponse{Results: results, Errors: make(map[string]string, len(errs))}
	for id, e := range errs {
		resp.Errors[id] = e.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
