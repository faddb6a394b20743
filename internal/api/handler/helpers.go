package handler

import (
	"log/slog"
	"net/http"

	mw "github.com/carhelperai/carhelper/internal/api/middleware"
	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/pkg/models"
)

// requireCaller returns the signed-in user or writes a 401 and returns nil.
func requireCaller(w http.ResponseWriter, r *http.Request) *models.User {
	u, ok := mw.GetUser(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
		return nil
	}
	return u
}

func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error(op+" failed", "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
