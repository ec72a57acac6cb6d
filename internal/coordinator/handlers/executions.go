package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"
)

// The execution endpoints are the worker-facing surface. They carry no
// user credential; each is authorized by one of the job's two tokens, and
// a wrong token is indistinguishable from a missing job.

// GetAttachments handles GET /execution/{jid}/attachments/{token}.
// Streams the job's attachment directory as a zip archive; the first
// successful fetch moves the job to running.
func (h *Handlers) GetAttachments(w http.ResponseWriter, r *http.Request) {
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="attachments.zip"`)
	err = h.lifecycle.PackAttachments(r.Context(), jid, r.PathValue("token"), w, r.RemoteAddr)
	if err != nil {
		w.Header().Del("Content-Disposition")
		h.respondDomainError(w, err)
		return
	}
}

// PostResults handles POST /execution/{jid}/results/{token}.
// The multipart body carries the terminal state, usage counters, and an
// optional results archive.
func (h *Handlers) PostResults(w http.ResponseWriter, r *http.Request) {
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		h.httpError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}

	state := store.JobState(r.FormValue("state"))
	if !state.Terminal() {
		h.httpError(w, "A terminal state (done, failed or killed) is required", http.StatusBadRequest)
		return
	}
	var usage [3]int64
	for i, field := range []string{"cpu", "memory", "io"} {
		n, err := strconv.ParseInt(r.FormValue(field), 10, 64)
		if err != nil {
			h.httpError(w, "Missing or invalid "+field+" usage", http.StatusBadRequest)
			return
		}
		usage[i] = n
	}
	cpu, memory, ioUsage := usage[0], usage[1], usage[2]

	file, hdr, err := r.FormFile("results")
	if err != nil && err != http.ErrMissingFile {
		h.httpError(w, "Invalid results upload", http.StatusBadRequest)
		return
	}
	var size int64
	if file != nil {
		defer file.Close()
		size = hdr.Size
	}

	err = h.lifecycle.PostResults(r.Context(), jid, r.PathValue("token"),
		file, size, state, cpu, memory, ioUsage, r.RemoteAddr)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateContainer handles PUT /execution/{jid}/container/{token}.
// Records the container identity so kill and delete have something to act
// on.
func (h *Handlers) UpdateContainer(w http.ResponseWriter, r *http.Request) {
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var req api.ContainerUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ContainerID == "" {
		h.httpError(w, "Container id is required", http.StatusBadRequest)
		return
	}

	err = h.lifecycle.RecordContainer(r.Context(), jid, r.PathValue("token"),
		req.ContainerID, r.RemoteAddr)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DepositLogs handles POST /execution/{jid}/log/{token}.
// The batch is appended atomically; the worker may retry it wholesale.
func (h *Handlers) DepositLogs(w http.ResponseWriter, r *http.Request) {
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var req api.DepositLogsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err = h.lifecycle.DepositLogs(r.Context(), jid, r.PathValue("token"), req.Lines, r.RemoteAddr)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
