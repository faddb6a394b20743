package handler

import (
	"net/http"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/go-chi/chi/v5"
)

// CodeCatalog defines the lookup the OBD handler depends on.
type CodeCatalog interface {
	Lookup(code string) (models.OBDCode, bool)
}

// NewOBDCodeHandler returns an http.HandlerFunc for GET /obd/{code}.
func NewOBDCodeHandler(c CodeCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := c.Lookup(chi.URLParam(r, "code"))
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown OBD-II code", nil)
			return
		}
		response.JSON(w, entry)
	}
}
