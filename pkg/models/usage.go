package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter tracks one user's activity for one UTC day. Rows are only ever
// merge-incremented.
type UsageCounter struct {
	UserID         uuid.UUID `db:"user_id"         json:"userId"`
	Date           time.Time `db:"date"            json:"date"`
	DiagnosesCount int       `db:"diagnoses_count" json:"diagnosesCount"`
	TokensUsed     int       `db:"tokens_used"     json:"tokensUsed"`
}

// UsageTotals aggregates usage rows over a period.
type UsageTotals struct {
	Diagnoses  int `json:"diagnoses"`
	TokensUsed int `json:"tokensUsed"`
}

// FreeDiagnosesPerDay is the daily allowance shown for accounts without a plan.
const FreeDiagnosesPerDay = 2
