// Package handlers contains HTTP handlers for the coordinator API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/adimian/kabuto/internal/archive"
	"github.com/adimian/kabuto/internal/lifecycle"
	"github.com/adimian/kabuto/internal/queue"
	"github.com/adimian/kabuto/internal/registry"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

// StoreFactory combines the store interfaces the coordinator needs.
type StoreFactory interface {
	Ping(ctx context.Context) error
	store.UserStore
	store.ImageStore
	store.PipelineStore
	store.JobStore
	store.LogStore
}

// Lifecycle is the slice of the lifecycle manager the handlers call.
type Lifecycle interface {
	CreateJob(ctx context.Context, ownerID, pipelineID, imageID uuid.UUID, command string, attachments []lifecycle.Attachment) (*store.Job, error)
	UpdateJob(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID, command string, imageID uuid.UUID) (*store.Job, error)
	Submit(ctx context.Context, ownerID, pipelineID uuid.UUID) (map[uuid.UUID]store.JobState, error)
	DeleteJob(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID) error
	Kill(ctx context.Context, ownerID, jobID uuid.UUID) error
	DeletePipeline(ctx context.Context, ownerID, pipelineID uuid.UUID) error
	Rearrange(ctx context.Context, ownerID, pipelineID uuid.UUID, ordered []uuid.UUID) error
	PackAttachments(ctx context.Context, jobID uuid.UUID, token string, w io.Writer, remoteAddr string) error
	PostResults(ctx context.Context, jobID uuid.UUID, token string, results io.ReaderAt, size int64, state store.JobState, cpu, memory, ioUsage int64, remoteAddr string) error
	PackResults(ctx context.Context, ownerID, jobID uuid.UUID, w io.Writer) error
	RecordContainer(ctx context.Context, jobID uuid.UUID, token, containerID, remoteAddr string) error
	DepositLogs(ctx context.Context, jobID uuid.UUID, token string, lines []string, remoteAddr string) error
	WithdrawLogs(ctx context.Context, ownerID, jobID uuid.UUID, afterID int64) ([]store.LogLine, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     StoreFactory
	lifecycle Lifecycle
	builder   registry.Builder
	log       *slog.Logger
}

// New creates a new Handlers instance.
func New(s StoreFactory, lc Lifecycle, b registry.Builder, log *slog.Logger) *Handlers {
	return &Handlers{store: s, lifecycle: lc, builder: b, log: log}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// respondDomainError maps domain errors onto HTTP statuses. State-machine
// rejections keep their exact message so clients can show it verbatim.
func (h *Handlers) respondDomainError(w http.ResponseWriter, err error) {
	var stateErr *lifecycle.InvalidStateError
	var transportErr *queue.TransportError
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Not found", http.StatusNotFound)
	case errors.As(err, &stateErr):
		h.httpError(w, stateErr.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrSequenceMismatch):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrImageInUse):
		h.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, archive.ErrCorrupt):
		h.httpError(w, "Corrupt archive", http.StatusBadRequest)
	case errors.Is(err, registry.ErrNoSource):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &transportErr):
		h.httpError(w, "Message broker unavailable", http.StatusBadGateway)
	default:
		h.log.Error("internal error", "error", err)
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}

func parseID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}
