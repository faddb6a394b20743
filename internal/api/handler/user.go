package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

// ProfileStore defines the interface the profile handlers depend on.
type ProfileStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.User, error)
}

var validUnits = map[string]bool{"imperial": true, "metric": true}

// NewGetUserHandler returns an http.HandlerFunc for GET /user.
func NewGetUserHandler(s ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}

		u, err := s.GetUserByID(r.Context(), caller.ID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
			return
		}
		if err != nil {
			internalError(w, "get user", err)
			return
		}
		response.JSON(w, u)
	}
}

// NewUpdateUserHandler returns an http.HandlerFunc for PUT /user.
func NewUpdateUserHandler(s ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}

		var upd models.ProfileUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if upd.SkillLevel != nil && !models.ValidSkillLevel(*upd.SkillLevel) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"skillLevel must be one of beginner, diy, pro", nil)
			return
		}
		if upd.Units != nil && !validUnits[*upd.Units] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"units must be imperial or metric", nil)
			return
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			upd.Name = &name
		}

		u, err := s.UpdateUserProfile(r.Context(), caller.ID, upd)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
			return
		}
		if err != nil {
			internalError(w, "update user", err)
			return
		}
		response.JSON(w, u)
	}
}
