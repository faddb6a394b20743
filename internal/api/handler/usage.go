package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/internal/cache"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

// usageCacheTTL bounds staleness when an invalidation is missed.
const usageCacheTTL = time.Minute

// UsageStore defines the interface the usage handler depends on.
type UsageStore interface {
	SumUsage(ctx context.Context, userID uuid.UUID, from, to time.Time) (models.UsageTotals, error)
}

type usageResponse struct {
	PeriodStart time.Time          `json:"periodStart"`
	PeriodEnd   time.Time          `json:"periodEnd"`
	Month       models.UsageTotals `json:"month"`
	Today       models.UsageTotals `json:"today"`
	DailyLimit  int                `json:"dailyLimit"`
	Remaining   int                `json:"remainingToday"`
}

// NewUsageHandler returns an http.HandlerFunc for GET /subscription/usage.
// c may be nil, in which case every request reads the store.
func NewUsageHandler(s UsageStore, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}
		ctx := r.Context()

		// The generation is read before the store so totals computed from
		// pre-diagnosis rows land under a key the diagnosis has retired.
		key := ""
		if c != nil {
			gen, err := cache.UsageGeneration(ctx, c, caller.ID)
			if err != nil {
				slog.Warn("usage generation read failed", "user_id", caller.ID, "error", err)
			} else {
				key = cache.UsageKey(caller.ID, gen)
			}
		}

		if key != "" {
			if b, ok, err := c.Get(ctx, key); err != nil {
				slog.Warn("usage cache read failed", "user_id", caller.ID, "error", err)
			} else if ok {
				var cached usageResponse
				if json.Unmarshal(b, &cached) == nil {
					response.JSON(w, cached)
					return
				}
			}
		}

		now := time.Now().UTC()
		y, m, d := now.Date()
		monthStart := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

		month, err := s.SumUsage(ctx, caller.ID, monthStart, today)
		if err != nil {
			internalError(w, "sum monthly usage", err)
			return
		}
		daily, err := s.SumUsage(ctx, caller.ID, today, today)
		if err != nil {
			internalError(w, "sum daily usage", err)
			return
		}

		out := usageResponse{
			PeriodStart: monthStart,
			PeriodEnd:   today,
			Month:       month,
			Today:       daily,
			DailyLimit:  models.FreeDiagnosesPerDay,
			Remaining:   max(models.FreeDiagnosesPerDay-daily.Diagnoses, 0),
		}

		if key != "" {
			if b, err := json.Marshal(out); err == nil {
				if err := c.Set(ctx, key, b, usageCacheTTL); err != nil {
					slog.Warn("usage cache write failed", "user_id", caller.ID, "error", err)
				}
			}
		}
		response.JSON(w, out)
	}
}
