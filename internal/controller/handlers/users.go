package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"crewflow/internal/auth"
	"crewflow/internal/store"
	"crewflow/pkg/api"

	"github.com/google/uuid"
)

// CreateUser handles POST /users (Admin only).
// It generates a new API key, hashes it for storage, and returns the raw
// key once.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "name is required", http.StatusBadRequest)
		return
	}
	tier := req.Tier
	if tier == "" {
		tier = "free"
	}

	apiKey, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "failed to generate api key", http.StatusInternalServerError)
		return
	}

	user := &store.User{
		ID:        uuid.New(),
		Name:      req.Name,
		Tier:      tier,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.users.CreateUser(ctx, user, auth.HashKey(apiKey)); err != nil {
		h.httpError(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.CreateUserResponse{
		ID:     user.ID.String(),
		Name:   user.Name,
		Tier:   user.Tier,
		APIKey: apiKey,
	})
}
