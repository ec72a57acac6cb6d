package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adimian/kabuto/internal/auth"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

// CreateUser handles POST /users.
// The raw API key appears in this response and nowhere else; only its
// hash is stored.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Login == "" {
		h.httpError(w, "Login is required", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.NewAPIKey()
	if err != nil {
		h.httpError(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	user := &store.User{
		ID:        uuid.New(),
		Login:     req.Login,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateUser(ctx, user, auth.HashKey(apiKey)); err != nil {
		h.httpError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.CreateUserResponse{
		ID:     user.ID.String(),
		Login:  user.Login,
		APIKey: apiKey,
	})
}
