package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/adimian/kabuto/internal/coordinator/middleware"
	"github.com/adimian/kabuto/internal/lifecycle"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

// maxAttachmentMemory caps how much of a multipart upload is buffered in
// memory before spilling to disk.
const maxAttachmentMemory = 32 << 20

// CreateJob handles POST /pipeline/{pid}/job.
// The request is multipart: a command field, an image_id field, and zero
// or more attachment files staged into the job's attachment directory.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
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

	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		h.httpError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	command := r.FormValue("command")
	if command == "" {
		h.httpError(w, "Command is required", http.StatusBadRequest)
		return
	}
	imageID, err := uuid.Parse(r.FormValue("image_id"))
	if err != nil {
		h.httpError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	var attachments []lifecycle.Attachment
	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, hdr := range headers {
				f, err := hdr.Open()
				if err != nil {
					h.httpError(w, "Failed to read attachment", http.StatusBadRequest)
					return
				}
				defer f.Close()
				attachments = append(attachments, lifecycle.Attachment{
					Name:    hdr.Filename,
					Content: f,
				})
			}
		}
	}

	job, err := h.lifecycle.CreateJob(ctx, user.ID, pid, imageID, command, attachments)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJson(w, http.StatusCreated, jobResponse(job))
}

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	resp := make([]api.JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobResponse(&j))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /pipeline/{pid}/job/{jid}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
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
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.store.GetJob(r.Context(), jid, user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if job.PipelineID != pid {
		h.respondDomainError(w, store.ErrNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, jobResponse(job))
}

// UpdateJob handles PUT /pipeline/{pid}/job/{jid}.
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
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
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var req api.UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	imageID := uuid.Nil
	if req.ImageID != "" {
		if imageID, err = uuid.Parse(req.ImageID); err != nil {
			h.httpError(w, "Invalid image id", http.StatusBadRequest)
			return
		}
	}

	job, err := h.lifecycle.UpdateJob(r.Context(), user.ID, pid, jid, req.Command, imageID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, jobResponse(job))
}

// DeleteJob handles DELETE /pipeline/{pid}/job/{jid}.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
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
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	if err := h.lifecycle.DeleteJob(r.Context(), user.ID, pid, jid); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RearrangeJobs handles PUT /pipeline/{pid}/jobs.
// The submitted id set must match the pipeline's jobs exactly.
func (h *Handlers) RearrangeJobs(w http.ResponseWriter, r *http.Request) {
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

	var req api.RearrangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ordered := make([]uuid.UUID, 0, len(req.JobIDs))
	for _, raw := range req.JobIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.httpError(w, "Invalid job id", http.StatusBadRequest)
			return
		}
		ordered = append(ordered, id)
	}

	if err := h.lifecycle.Rearrange(r.Context(), user.ID, pid, ordered); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitPipeline handles POST /pipeline/{pid}/submit.
// The response maps each job id to the state it reached, also when the
// dispatch stopped partway through.
func (h *Handlers) SubmitPipeline(w http.ResponseWriter, r *http.Request) {
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

	states, err := h.lifecycle.Submit(r.Context(), user.ID, pid)
	resp := make(api.SubmitResponse, len(states))
	for id, st := range states {
		resp[id.String()] = string(st)
	}
	if err != nil {
		h.log.Warn("pipeline submit incomplete", "pipeline_id", pid, "error", err)
		h.respondJson(w, http.StatusBadGateway, resp)
		return
	}
	h.respondJson(w, http.StatusOK, resp)
}

// KillJob handles POST /execution/{jid}/kill.
func (h *Handlers) KillJob(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	if err := h.lifecycle.Kill(r.Context(), user.ID, jid); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DownloadResults handles GET /execution/{jid}/results.
func (h *Handlers) DownloadResults(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	// Probe first so the error reaches the client before any zip bytes do.
	if _, err := h.store.GetJob(r.Context(), jid, user.ID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="results.zip"`)
	if err := h.lifecycle.PackResults(r.Context(), user.ID, jid, w); err != nil {
		w.Header().Del("Content-Disposition")
		h.respondDomainError(w, err)
		return
	}
}

func jobResponse(j *store.Job) api.JobResponse {
	return api.JobResponse{
		ID:             j.ID.String(),
		PipelineID:     j.PipelineID.String(),
		ImageID:        j.ImageID.String(),
		Command:        j.Command,
		SequenceNumber: j.SequenceNumber,
		State:          string(j.State),
		CPU:            j.CPU,
		Memory:         j.Memory,
		IO:             j.IO,
		CreatedAt:      j.CreatedAt,
	}
}
