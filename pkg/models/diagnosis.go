package models

import (
	"time"

	"github.com/google/uuid"
)

// Skill levels tune how technical the generated guidance is.
const (
	SkillBeginner = "beginner"
	SkillDIY      = "diy"
	SkillPro      = "pro"
)

// Severity values a diagnosis can carry.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ValidSkillLevel reports whether s is one of the known skill levels.
func ValidSkillLevel(s string) bool {
	switch s {
	case SkillBeginner, SkillDIY, SkillPro:
		return true
	}
	return false
}

// ValidSeverity reports whether s is one of the known severities.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// DiagnosisRequest is the body of POST /diagnose.
type DiagnosisRequest struct {
	Message             string     `json:"message"`
	VehicleID           string     `json:"vehicleId,omitempty"`
	SkillLevel          string     `json:"skillLevel,omitempty"`
	OBDCode             string     `json:"obdCode,omitempty"`
	ConversationID      string     `json:"conversationId,omitempty"`
	ConversationHistory []ChatTurn `json:"conversationHistory,omitempty"`
}

// Diagnosis is the structured result produced for one assistant turn.
// Field names on the wire match the JSON contract the model is instructed to emit.
type Diagnosis struct {
	Summary        string        `json:"summary"`
	NextQuestions  []string      `json:"nextQuestions"`
	LikelyCauses   []LikelyCause `json:"likelyCauses"`
	Severity       string        `json:"severity"`
	Confidence     int           `json:"confidence"`
	SafetyAdvisory string        `json:"safetyAdvisory"`
	DIYSteps       []DIYStep     `json:"diySteps"`
	Parts          []Part        `json:"parts"`
	Estimates      CostEstimate  `json:"estimates"`
	WhatToDoNext   []string      `json:"whatToDoNext"`
	FollowUpNeeded bool          `json:"followUpNeeded"`
	References     []string      `json:"references"`
}

// LikelyCause is one entry of the differential. Probabilities are model output and
// are not renormalised.
type LikelyCause struct {
	Cause          string   `json:"cause"`
	Probability    float64  `json:"probability"`
	WhyLikely      string   `json:"whyLikely"`
	Checks         []string `json:"checks"`
	RisksIfIgnored string   `json:"risksIfIgnored"`
	Verify         string   `json:"verify"`
}

type DIYStep struct {
	Step       string   `json:"step"`
	Tools      []string `json:"tools"`
	TimeMin    int      `json:"timeMin"`
	Difficulty string   `json:"difficulty"`
}

type Part struct {
	Name             string  `json:"name"`
	OEMOrAftermarket string  `json:"oemOrAftermarket"`
	Qty              int     `json:"qty"`
	PriceLow         float64 `json:"priceLow"`
	PriceHigh        float64 `json:"priceHigh"`
}

type CostEstimate struct {
	LaborHours     float64    `json:"laborHours"`
	LaborRateRange [2]float64 `json:"laborRateRange"`
	PartsLow       float64    `json:"partsLow"`
	PartsHigh      float64    `json:"partsHigh"`
	TotalLow       float64    `json:"totalLow"`
	TotalHigh      float64    `json:"totalHigh"`
	Notes          string     `json:"notes"`
}

// DefaultLaborRateRange is the hourly shop rate range used when the model gives none.
var DefaultLaborRateRange = [2]float64{95, 185}

// DiagnosisRecord is the standalone history row written for every completed diagnosis.
type DiagnosisRecord struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversationId"`
	Summary        string    `db:"summary"         json:"summary"`
	Severity       string    `db:"severity"        json:"severity"`
	Confidence     int       `db:"confidence"      json:"confidence"`
	OBDCode        *string   `db:"obd_code"        json:"obdCode,omitempty"`
	Data           Diagnosis `db:"json_data"       json:"data"`
	CreatedAt      time.Time `db:"created_at"      json:"createdAt"`
}

// DiagnosisSummary is a history list entry joined with its conversation's vehicle.
type DiagnosisSummary struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Summary        string    `json:"summary"`
	Severity       string    `json:"severity"`
	Confidence     int       `json:"confidence"`
	VehicleName    string    `json:"vehicleName"`
	OBDCode        *string   `json:"obdCode,omitempty"`
	HasRepairGuide bool      `json:"hasRepairGuide"`
	CreatedAt      time.Time `json:"createdAt"`
}
