package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adimian/kabuto/internal/coordinator/middleware"
	"github.com/adimian/kabuto/internal/registry"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

// CreateImage handles POST /image.
// The image is built and pushed synchronously; the response carries the
// daemon's build output so failures are diagnosable from the client.
func (h *Handlers) CreateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	ref, output, err := h.builder.Build(ctx, registry.BuildSpec{
		Name:       req.Name,
		Login:      user.Login,
		Dockerfile: req.Dockerfile,
		RepoURL:    req.RepoURL,
		NoCache:    req.NoCache,
	})
	if err != nil {
		h.log.Warn("image build failed", "name", req.Name, "user", user.Login, "error", err)
		h.respondJson(w, http.StatusBadRequest, api.ErrorResponse{
			Error:   "Build failed",
			Code:    "400",
			Details: err.Error(),
		})
		return
	}

	img := &store.Image{
		ID:         uuid.New(),
		OwnerID:    user.ID,
		Name:       req.Name,
		Dockerfile: req.Dockerfile,
		RepoURL:    req.RepoURL,
		Ref:        ref,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateImage(ctx, img); err != nil {
		h.httpError(w, "Failed to save image", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.BuildResponse{
		ID:     img.ID.String(),
		Ref:    ref,
		Output: output,
	})
}

// ListImages handles GET /images.
func (h *Handlers) ListImages(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	images, err := h.store.ListImages(r.Context(), user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp := make([]api.ImageResponse, 0, len(images))
	for _, img := range images {
		resp = append(resp, imageResponse(&img))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetImage handles GET /image/{id}.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		h.httpError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	img, err := h.store.GetImage(r.Context(), id, user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, imageResponse(img))
}

// UpdateImage handles PUT /image/{id}: a rebuild with new sources.
func (h *Handlers) UpdateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		h.httpError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	img, err := h.store.GetImage(ctx, id, user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	var req api.CreateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Dockerfile != "" {
		img.Dockerfile = req.Dockerfile
		img.RepoURL = ""
	}
	if req.RepoURL != "" {
		img.RepoURL = req.RepoURL
		img.Dockerfile = ""
	}

	ref, output, err := h.builder.Build(ctx, registry.BuildSpec{
		Name:       img.Name,
		Login:      user.Login,
		Dockerfile: img.Dockerfile,
		RepoURL:    img.RepoURL,
		NoCache:    req.NoCache,
	})
	if err != nil {
		h.respondJson(w, http.StatusBadRequest, api.ErrorResponse{
			Error:   "Build failed",
			Code:    "400",
			Details: err.Error(),
		})
		return
	}

	img.Ref = ref
	if err := h.store.UpdateImage(ctx, img); err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.BuildResponse{
		ID:     img.ID.String(),
		Ref:    ref,
		Output: output,
	})
}

// DeleteImage handles DELETE /image/{id}.
func (h *Handlers) DeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		h.httpError(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	img, err := h.store.GetImage(ctx, id, user.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if err := h.store.DeleteImage(ctx, id, user.ID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	// The local image copy is best-effort cleanup.
	if err := h.builder.Remove(ctx, img.Ref); err != nil {
		h.log.Warn("failed to remove image from daemon", "ref", img.Ref, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func imageResponse(img *store.Image) api.ImageResponse {
	return api.ImageResponse{
		ID:        img.ID.String(),
		Name:      img.Name,
		Ref:       img.Ref,
		CreatedAt: img.CreatedAt,
	}
}
