package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adimian/kabuto/internal/coordinator/middleware"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

// CreatePipeline handles POST /pipeline.
func (h *Handlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	p := &store.Pipeline{
		ID:        uuid.New(),
		OwnerID:   user.ID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreatePipeline(ctx, p); err != nil {
		h.httpError(w, "Failed to create pipeline", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.PipelineResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
	})
}

// ListPipelines handles GET /pipelines.
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	pipelines, err := h.store.ListPipelines(r.Context(), user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp := make([]api.PipelineResponse, 0, len(pipelines))
	for _, p := range pipelines {
		resp = append(resp, api.PipelineResponse{
			ID:        p.ID.String(),
			Name:      p.Name,
			CreatedAt: p.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetPipeline handles GET /pipeline/{pid}: the pipeline plus its jobs in
// sequence order.
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	pid, err := parseID(r, "pid")
	if err != nil {
		h.httpError(w, "Invalid pipeline id", http.StatusBadRequest)
		return
	}

	p, err := h.store.GetPipeline(ctx, pid, user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	jobs, err := h.store.ListPipelineJobs(ctx, pid)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	jobResponses := make([]api.JobResponse, 0, len(jobs))
	for _, j := range jobs {
		jobResponses = append(jobResponses, jobResponse(&j))
	}
	h.respondJson(w, http.StatusOK, struct {
		api.PipelineResponse
		Jobs []api.JobResponse `json:"jobs"`
	}{
		PipelineResponse: api.PipelineResponse{
			ID:        p.ID.String(),
			Name:      p.Name,
			CreatedAt: p.CreatedAt,
		},
		Jobs: jobResponses,
	})
}

// DeletePipeline handles DELETE /pipeline/{pid}.
func (h *Handlers) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	pid, err := parseID(r, "pid")
	if err != nil {
		h.httpError(w, "Invalid pipeline id", http.StatusBadRequest)
		return
	}

	if err := h.lifecycle.DeletePipeline(r.Context(), user.ID, pid); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
