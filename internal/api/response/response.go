// Package response writes JSON bodies for the HTTP API. Success bodies are the
// resource itself; error bodies are {error, code} plus optional extras.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// modelFailureBody keeps a renderable diagnosis next to the error.
type modelFailureBody struct {
	Error          string           `json:"error"`
	Code           string           `json:"code"`
	Diagnosis      models.Diagnosis `json:"diagnosis"`
	ConversationID *uuid.UUID       `json:"conversationId,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorBody{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// ModelFailure reports a failed completion call together with the fallback
// diagnosis. A nil conversation id is omitted.
func ModelFailure(w http.ResponseWriter, status int, code, message string, d models.Diagnosis, conversationID uuid.UUID) {
	body := modelFailureBody{Error: message, Code: code, Diagnosis: d}
	if conversationID != uuid.Nil {
		body.ConversationID = &conversationID
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response body", "error", err)
	}
}
