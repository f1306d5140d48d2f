// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/noldarim/inkwell/internal/connection"
	"github.com/noldarim/inkwell/internal/executor"
	"github.com/noldarim/inkwell/internal/forms"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/recovery"
	"github.com/noldarim/inkwell/internal/research"
)

// Connection is the view of the backend connection the API exposes.
type Connection interface {
	State() connection.State
	CircuitBreakerState() connection.BreakerSnapshot
	Metrics() connection.Metrics
	Reconnect(ctx context.Context)
}

// Deps are the components the handlers operate on. Conn may be nil.
type Deps struct {
	Pipelines *pipeline.Store
	Research  *research.Store
	Executor  *executor.Executor
	Recovery  *recovery.Controller
	Conn      Connection
	Templates []models.Template
	// Emit publishes an event to WebSocket clients. Optional.
	Emit func(protocol.Event)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	// runCtx outlives requests; pipeline runs started over HTTP use it.
	runCtx context.Context
}

// NewHandlers creates the handler set.
func NewHandlers(runCtx context.Context, deps Deps) *Handlers {
	return &Handlers{Deps: deps, runCtx: runCtx}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["context"] = err.Error()
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func (h *Handlers) pipelineOr404(w http.ResponseWriter, r *http.Request) (models.Pipeline, bool) {
	id := chi.URLParam(r, "id")
	p, ok := h.Pipelines.Pipeline(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Pipeline not found", nil)
	}
	return p, ok
}

// pipelineView is a pipeline with its pause flag.
type pipelineView struct {
	models.Pipeline
	Paused    bool `json:"paused"`
	Executing bool `json:"executing"`
}

func (h *Handlers) view(p models.Pipeline) pipelineView {
	return pipelineView{
		Pipeline:  p,
		Paused:    h.Pipelines.IsPausedFor(p.ID),
		Executing: h.Executor.IsExecuting(p.ID),
	}
}

// --- templates ---

// GetTemplates handles GET /api/v1/templates
func (h *Handlers) GetTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Templates)
}

// --- pipelines ---

// GetPipelines handles GET /api/v1/pipelines
func (h *Handlers) GetPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines := h.Pipelines.Pipelines()
	views := make([]pipelineView, len(pipelines))
	for i, p := range pipelines {
		views[i] = h.view(p)
	}
	activeID := ""
	if p, ok := h.Pipelines.ActivePipeline(); ok {
		activeID = p.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipelines":          views,
		"active_pipeline_id": activeID,
		"paused":             h.Pipelines.IsPaused(),
	})
}

// CreatePipeline handles POST /api/v1/pipelines
func (h *Handlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.CreatePipelineCommand
	if !decode(w, r, &cmd) {
		return
	}

	if cmd.TemplateID == "" {
		if cmd.Name == "" {
			writeError(w, http.StatusBadRequest, "name or template_id is required", nil)
			return
		}
		writeJSON(w, http.StatusCreated, h.view(h.Pipelines.CreatePipeline(cmd.Name, "")))
		return
	}

	t, ok := models.FindTemplate(h.Templates, cmd.TemplateID)
	if !ok {
		writeError(w, http.StatusNotFound, "Template not found", nil)
		return
	}
	if cmd.Name != "" {
		t.Name = cmd.Name
	}
	p, err := forms.Instantiate(h.Pipelines, h.Research, t, forms.FromParams(cmd.Params))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid template inputs", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(p))
}

// GetPipeline handles GET /api/v1/pipelines/{id}
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipelineOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}

// DeletePipeline handles DELETE /api/v1/pipelines/{id}
func (h *Handlers) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Executor.IsExecuting(id) {
		writeError(w, http.StatusConflict, "Pipeline is executing", nil)
		return
	}
	if err := h.Pipelines.DeletePipeline(id); err != nil {
		writeError(w, http.StatusNotFound, "Pipeline not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddStep handles POST /api/v1/pipelines/{id}/steps
func (h *Handlers) AddStep(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.AddStepCommand
	if !decode(w, r, &cmd) {
		return
	}
	id := chi.URLParam(r, "id")
	if cmd.PipelineID != "" && cmd.PipelineID != id {
		writeError(w, http.StatusBadRequest, "pipeline_id does not match the request path", nil)
		return
	}
	spec := cmd.Step
	if !spec.Type.IsValid() {
		writeError(w, http.StatusBadRequest, "Unknown step type", nil)
		return
	}
	if spec.Name == "" {
		spec.Name = string(spec.Type)
	}
	stepID, err := h.Pipelines.AddStep(id, spec)
	if err != nil {
		writeError(w, http.StatusNotFound, "Pipeline not found", err)
		return
	}
	p, _ := h.Pipelines.Pipeline(id)
	writeJSON(w, http.StatusCreated, map[string]any{"step_id": stepID, "pipeline": h.view(p)})
}

// StartPipeline handles POST /api/v1/pipelines/{id}/start. The run continues
// in the background; progress arrives over the WebSocket.
func (h *Handlers) StartPipeline(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipelineOr404(w, r)
	if !ok {
		return
	}
	if h.Executor.IsExecuting(p.ID) {
		writeJSON(w, http.StatusOK, h.view(p))
		return
	}
	_ = h.Pipelines.SetActivePipeline(p.ID)
	go func() {
		if err := h.Executor.Start(h.runCtx, p.ID); err != nil && !errors.Is(err, context.Canceled) {
			getLog().Error().Err(err).Str("pipeline_id", p.ID).Msg("Pipeline run aborted")
			if h.Emit != nil {
				h.Emit(protocol.ErrorEvent{
					Metadata: protocol.NewMetadata(""),
					Message:  "Pipeline run aborted",
					Context:  err.Error(),
				})
			}
		}
	}()
	writeJSON(w, http.StatusAccepted, h.view(p))
}

// ResetPipeline handles POST /api/v1/pipelines/{id}/reset
func (h *Handlers) ResetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Executor.IsExecuting(id) {
		writeError(w, http.StatusConflict, "Pipeline is executing", nil)
		return
	}
	if err := h.Pipelines.ResetPipeline(id); err != nil {
		writeError(w, http.StatusNotFound, "Pipeline not found", err)
		return
	}
	p, _ := h.Pipelines.Pipeline(id)
	writeJSON(w, http.StatusOK, h.view(p))
}

// PausePipeline handles POST /api/v1/pipelines/{id}/pause
func (h *Handlers) PausePipeline(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// ResumePipeline handles POST /api/v1/pipelines/{id}/resume. Resuming does
// not restart execution; call start for that.
func (h *Handlers) ResumePipeline(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *Handlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := chi.URLParam(r, "id")
	var err error
	if paused {
		err = h.Pipelines.PauseFor(id)
	} else {
		err = h.Pipelines.ResumeFor(id)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "Pipeline not found", err)
		return
	}
	p, _ := h.Pipelines.Pipeline(id)
	writeJSON(w, http.StatusOK, h.view(p))
}

// --- recovery ---

// GetRecovery handles GET /api/v1/pipelines/{id}/recovery
func (h *Handlers) GetRecovery(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipelineOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Recovery.Status(p.ID))
}

// DismissRecovery handles POST /api/v1/pipelines/{id}/recovery/dismiss
func (h *Handlers) DismissRecovery(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipelineOr404(w, r)
	if !ok {
		return
	}
	h.Recovery.Dismiss(p.ID)
	writeJSON(w, http.StatusOK, h.Recovery.Status(p.ID))
}

// DispatchRecovery handles POST /api/v1/pipelines/{id}/recovery/{action}
func (h *Handlers) DispatchRecovery(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipelineOr404(w, r)
	if !ok {
		return
	}
	action, ok := recovery.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown recovery action", nil)
		return
	}

	st, err := h.Recovery.Dispatch(h.runCtx, p.ID, action)
	switch {
	case errors.Is(err, recovery.ErrRetryLimitReached):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "status": st})
	case errors.Is(err, recovery.ErrActionNotAvailable):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "status": st})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Recovery action failed", err)
	default:
		writeJSON(w, http.StatusAccepted, st)
	}
}

// --- research context ---

// GetContext handles GET /api/v1/context. With ?step_type=<type> it returns
// the projection that step type would receive.
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	if st := r.URL.Query().Get("step_type"); st != "" {
		writeJSON(w, http.StatusOK, h.Research.GetContextForStep(models.StepType(st)))
		return
	}
	writeJSON(w, http.StatusOK, h.Research.Snapshot())
}

// UpdateContext handles PUT /api/v1/context
func (h *Handlers) UpdateContext(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.UpdateContextCommand
	if !decode(w, r, &cmd) {
		return
	}
	if cmd.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required", nil)
		return
	}
	h.Research.UpdateResearchContext(cmd.Key, cmd.Value)
	writeJSON(w, http.StatusOK, h.Research.Snapshot())
}

// ClearContext handles DELETE /api/v1/context
func (h *Handlers) ClearContext(w http.ResponseWriter, r *http.Request) {
	h.Research.ClearContext()
	w.WriteHeader(http.StatusNoContent)
}

// --- connection ---

type connectionView struct {
	Enabled bool                        `json:"enabled"`
	State   connection.State            `json:"state,omitempty"`
	Breaker *connection.BreakerSnapshot `json:"breaker,omitempty"`
	Metrics *connection.Metrics         `json:"metrics,omitempty"`
}

func (h *Handlers) connectionView() connectionView {
	if h.Conn == nil {
		return connectionView{}
	}
	b := h.Conn.CircuitBreakerState()
	m := h.Conn.Metrics()
	return connectionView{Enabled: true, State: h.Conn.State(), Breaker: &b, Metrics: &m}
}

// GetConnection handles GET /api/v1/connection
func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionView())
}

// Reconnect handles POST /api/v1/connection/reconnect
func (h *Handlers) Reconnect(w http.ResponseWriter, r *http.Request) {
	if h.Conn == nil {
		writeError(w, http.StatusConflict, "No backend connection configured", nil)
		return
	}
	h.Conn.Reconnect(h.runCtx)
	writeJSON(w, http.StatusAccepted, h.connectionView())
}

// snapshot feeds late WebSocket subscribers the pipeline and its recovery
// panel as they stand now.
func (h *Handlers) snapshot(pipelineID string) ([]protocol.Event, bool) {
	p, ok := h.Pipelines.Pipeline(pipelineID)
	if !ok {
		return nil, false
	}
	st := h.Recovery.Status(pipelineID)
	return []protocol.Event{
		protocol.PipelineUpdatedEvent{
			Metadata: protocol.NewMetadata(""),
			Pipeline: p,
			Paused:   h.Pipelines.IsPausedFor(pipelineID),
		},
		protocol.RecoveryStatusEvent{
			Metadata:   protocol.NewMetadata(""),
			PipelineID: pipelineID,
			Mode:       string(st.Mode),
			Visible:    st.Visible,
			Attempts:   st.Attempts,
			Message:    st.Message,
		},
	}, true
}
