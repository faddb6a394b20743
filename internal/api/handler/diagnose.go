package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carhelperai/carhelper/internal/ai"
	mw "github.com/carhelperai/carhelper/internal/api/middleware"
	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/internal/diagnosis"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

// maxDiagnoseBody bounds the request body, history included.
const maxDiagnoseBody = 1 << 20

// Diagnoser defines the interface the diagnose handler depends on.
type Diagnoser interface {
	Diagnose(ctx context.Context, in diagnosis.Input) (*diagnosis.Result, error)
}

type diagnoseResponse struct {
	Diagnosis      models.Diagnosis `json:"diagnosis"`
	ConversationID *uuid.UUID       `json:"conversationId"`
	Message        string           `json:"message"`
}

// NewDiagnoseHandler returns an http.HandlerFunc for POST /diagnose.
// A missing session is reported by the service, not rejected here.
func NewDiagnoseHandler(svc Diagnoser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.DiagnosisRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDiagnoseBody)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		caller, _ := mw.GetUser(r)
		res, err := svc.Diagnose(r.Context(), diagnosis.Input{
			ClientID: mw.GetClientIP(r),
			Caller:   caller,
			Request:  req,
		})
		if err != nil {
			writeDiagnoseError(w, r, err)
			return
		}

		out := diagnoseResponse{Diagnosis: res.Diagnosis, Message: res.Message}
		if res.ConversationID != uuid.Nil {
			out.ConversationID = &res.ConversationID
		}
		response.JSON(w, out)
	}
}

func writeDiagnoseError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *diagnosis.RateLimitedError
	if errors.As(err, &rl) {
		mw.WriteRateLimitHeaders(w, rl.Decision)
		response.Error(w, http.StatusTooManyRequests, "RATE_LIMITED",
			"Too many requests, please try again later", nil)
		return
	}

	var me *diagnosis.ModelError
	if errors.As(err, &me) {
		switch {
		case errors.Is(err, ai.ErrQuotaExceeded):
			response.ModelFailure(w, http.StatusServiceUnavailable, "MODEL_QUOTA_EXCEEDED",
				"AI service quota exceeded. Please try again later.", me.Diagnosis, me.ConversationID)
		case errors.Is(err, ai.ErrInferenceTimeout):
			response.ModelFailure(w, http.StatusGatewayTimeout, "MODEL_TIMEOUT",
				"The diagnosis took too long and was cancelled", me.Diagnosis, me.ConversationID)
		default:
			response.ModelFailure(w, http.StatusInternalServerError, "MODEL_FAILED",
				"Failed to generate diagnosis", me.Diagnosis, me.ConversationID)
		}
		return
	}

	switch {
	case errors.Is(err, diagnosis.ErrUnauthenticated):
		response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
	case errors.Is(err, diagnosis.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, diagnosis.ErrConversationNotFound):
		response.Error(w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "Conversation not found", nil)
	default:
		slog.Error("diagnose failed", "error", err, "path", r.URL.Path)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
