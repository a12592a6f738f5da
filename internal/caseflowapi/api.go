// Package caseflowapi exposes the workflow operations over HTTP.
package caseflowapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

// WorkflowService defines the business operations caseflowapi needs.
type WorkflowService interface {
	StartWorkflow(ctx context.Context, al *workflow.Alert) (string, error)
	RunToCompletion(ctx context.Context, id string)
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error)
	Cancel(ctx context.Context, id string) error
	GetAgentPerformance(ctx context.Context) (map[string]workflow.AgentPerformance, error)
	OptimizeWorkflow(ctx context.Context) (*workflow.OptimizationReport, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    WorkflowService
}

// New creates a new API handler.
func New(logger log.Logger, svc WorkflowService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("workflow service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/workflows", a.handleListWorkflows)
		r.Get("/workflows/{id}", a.handleGetWorkflow)
		r.Post("/workflows/{id}/cancel", a.handleCancelWorkflow)
		r.Get("/agents/performance", a.handleAgentPerformance)
		r.Post("/optimize", a.handleOptimize)
	})
}

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var al workflow.Alert
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	id, err := a.svc.StartWorkflow(r.Context(), &al)
	if err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.logger.Error(r.Context(), err, "failed to start workflow", "alert_id", al.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseflow.workflow.id", id))

	// Drive the pipeline detached from the request context so the driver
	// survives the response.
	go a.svc.RunToCompletion(context.WithoutCancel(r.Context()), id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"workflow_id": id,
	})
}

func (a *API) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseflow.workflow.id", id))

	wf, err := a.svc.GetWorkflow(r.Context(), id)
	if err != nil {
		var nf *workflow.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to get workflow", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.String("caseflow.workflow.status", string(wf.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wf)
}

func (a *API) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	status := workflow.Status(r.URL.Query().Get("status"))

	wfs, err := a.svc.ListWorkflows(r.Context(), status)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list workflows")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if wfs == nil {
		wfs = []*workflow.Workflow{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"workflows": wfs,
	})
}

func (a *API) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.svc.Cancel(r.Context(), id); err != nil {
		var nf *workflow.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to cancel workflow", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"workflow_id": id,
		"cancelled":   true,
	})
}

func (a *API) handleAgentPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := a.svc.GetAgentPerformance(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to aggregate agent performance")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(perf)
}

func (a *API) handleOptimize(w http.ResponseWriter, r *http.Request) {
	rep, err := a.svc.OptimizeWorkflow(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "optimization run failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseflow.optimization.status", string(rep.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rep)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
