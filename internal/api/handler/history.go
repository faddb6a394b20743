package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// HistoryStore defines the interface the history handler depends on.
type HistoryStore interface {
	ListDiagnoses(ctx context.Context, userID uuid.UUID, limit int) ([]*models.DiagnosisSummary, error)
}

// NewListDiagnosesHandler returns an http.HandlerFunc for GET /diagnoses.
func NewListDiagnosesHandler(s HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		items, err := s.ListDiagnoses(r.Context(), caller.ID, limit)
		if err != nil {
			internalError(w, "list diagnoses", err)
			return
		}
		response.JSON(w, map[string]any{"diagnoses": items})
	}
}
